package override

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/dates"
)

// MemoryRepository is an in-memory Repository for tests and dev runs.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]Override // streamID|date|subject|index -> override
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Override)}
}

func (r *MemoryRepository) key(ov Override) string {
	return ov.StreamID + "|" + SlotKey(ov.ClassDate, ov.Subject, ov.EntryIndex)
}

func (r *MemoryRepository) Upsert(_ context.Context, ov Override) (Override, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	k := r.key(ov)
	if existing, ok := r.rows[k]; ok {
		ov.ID = existing.ID
		ov.CreatedAt = existing.CreatedAt
	} else {
		if ov.ID == "" {
			ov.ID = uuid.NewString()
		}
		ov.CreatedAt = now
	}
	ov.UpdatedAt = now
	r.rows[k] = ov
	return ov, nil
}

func (r *MemoryRepository) ListRange(_ context.Context, streamID string, start, end time.Time) ([]Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start, end = dates.Day(start), dates.Day(end)
	var out []Override
	for _, ov := range r.rows {
		if ov.StreamID != streamID {
			continue
		}
		d := dates.Day(ov.ClassDate)
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, ov)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ClassDate.Equal(b.ClassDate) {
			return a.ClassDate.Before(b.ClassDate)
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.EntryIndex < b.EntryIndex
	})
	return out, nil
}
