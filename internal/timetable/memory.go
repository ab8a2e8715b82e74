package timetable

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/apperrors"
	"classtrack/internal/dates"
)

// MemoryRepository is an in-memory Repository for tests and dev runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]Timetable
	stream map[string][]string // streamID -> timetable IDs
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]Timetable),
		stream: make(map[string][]string),
	}
}

func (r *MemoryRepository) CreateTimetable(_ context.Context, tt Timetable) (Timetable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tt.ID == "" {
		tt.ID = uuid.NewString()
	}
	for i := range tt.Entries {
		if tt.Entries[i].ID == "" {
			tt.Entries[i].ID = uuid.NewString()
		}
	}
	r.byID[tt.ID] = tt
	r.stream[tt.StreamID] = append(r.stream[tt.StreamID], tt.ID)
	return tt, nil
}

func (r *MemoryRepository) LatestTimetable(_ context.Context, streamID string) (Timetable, error) {
	return r.pick(streamID, func(cur, best Timetable) bool {
		return cur.ValidFrom.After(best.ValidFrom)
	})
}

func (r *MemoryRepository) EarliestTimetable(_ context.Context, streamID string) (Timetable, error) {
	return r.pick(streamID, func(cur, best Timetable) bool {
		return cur.ValidFrom.Before(best.ValidFrom)
	})
}

func (r *MemoryRepository) pick(streamID string, better func(cur, best Timetable) bool) (Timetable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.stream[streamID]
	if len(ids) == 0 {
		return Timetable{}, apperrors.NewNotFound("no timetable for stream %s", streamID)
	}
	best := r.byID[ids[0]]
	for _, id := range ids[1:] {
		if cur := r.byID[id]; better(cur, best) {
			best = cur
		}
	}
	return best, nil
}

func (r *MemoryRepository) CloseTimetable(_ context.Context, id string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tt, ok := r.byID[id]
	if !ok {
		return apperrors.NewNotFound("timetable %s not found", id)
	}
	u := dates.Day(until)
	tt.ValidUntil = &u
	r.byID[id] = tt
	return nil
}

func (r *MemoryRepository) ListIntersecting(_ context.Context, streamID string, start, end time.Time) ([]Timetable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Timetable
	for _, id := range r.stream[streamID] {
		tt := r.byID[id]
		if dates.Day(tt.ValidFrom).After(dates.Day(end)) {
			continue
		}
		if tt.ValidUntil != nil && dates.Day(*tt.ValidUntil).Before(dates.Day(start)) {
			continue
		}
		out = append(out, tt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}
