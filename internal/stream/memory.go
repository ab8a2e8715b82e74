package stream

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"classtrack/internal/apperrors"
)

// MemoryRepository is an in-memory Repository for tests and dev runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	streams map[string]Stream
	members map[string]map[string]Member // streamID -> userID -> member
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		streams: make(map[string]Stream),
		members: make(map[string]map[string]Member),
	}
}

func (r *MemoryRepository) CreateStream(_ context.Context, s Stream) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	r.streams[s.ID] = s
	return s, nil
}

func (r *MemoryRepository) GetStream(_ context.Context, id string) (Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	if !ok {
		return Stream{}, apperrors.NewNotFound("stream %s not found", id)
	}
	return s, nil
}

func (r *MemoryRepository) UpsertMember(_ context.Context, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[m.StreamID] == nil {
		r.members[m.StreamID] = make(map[string]Member)
	}
	r.members[m.StreamID][m.UserID] = m
	return nil
}

func (r *MemoryRepository) GetMember(_ context.Context, streamID, userID string) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[streamID][userID]
	if !ok {
		return Member{}, apperrors.NewNotFound("user %s not in stream %s", userID, streamID)
	}
	return m, nil
}

func (r *MemoryRepository) ListMembers(_ context.Context, streamID string) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var members []Member
	for _, m := range r.members[streamID] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}
