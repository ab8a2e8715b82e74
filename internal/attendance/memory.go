package attendance

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
	mu      sync.RWMutex
	records map[string]Record // composite key -> record
	bulk    []BulkEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func compositeKey(rec Record) string {
	return rec.UserID + "|" + rec.StreamID + "|" + recordKey(rec.Subject, rec.ClassDate, rec.SubjectIndex, rec.IsReplacement)
}

func (r *MemoryRepository) UpsertRecord(_ context.Context, rec Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := compositeKey(rec)
	if existing, ok := r.records[k]; ok {
		existing.Status = rec.Status
		existing.MarkedAt = rec.MarkedAt
		r.records[k] = existing
		return existing, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.records[k] = rec
	return rec, nil
}

func (r *MemoryRepository) CreateIfAbsent(_ context.Context, rec Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := compositeKey(rec)
	if _, ok := r.records[k]; ok {
		return false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.records[k] = rec
	return true, nil
}

func (r *MemoryRepository) ListUserRange(_ context.Context, userID, streamID string, start, end time.Time) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start, end = dates.Day(start), dates.Day(end)
	var out []Record
	for _, rec := range r.records {
		if rec.UserID != userID || rec.StreamID != streamID {
			continue
		}
		d := dates.Day(rec.ClassDate)
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ClassDate.Equal(b.ClassDate) {
			return a.ClassDate.Before(b.ClassDate)
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.SubjectIndex < b.SubjectIndex
	})
	return out, nil
}

func (r *MemoryRepository) AppendBulk(_ context.Context, be BulkEntry) (BulkEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if be.ID == "" {
		be.ID = uuid.NewString()
	}
	r.bulk = append(r.bulk, be)
	return be, nil
}

func (r *MemoryRepository) ListBulk(_ context.Context, userID, streamID string) ([]BulkEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []BulkEntry
	for _, be := range r.bulk {
		if be.UserID == userID && be.StreamID == streamID {
			out = append(out, be)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
