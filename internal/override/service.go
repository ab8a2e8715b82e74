package override

import (
	"context"
	"time"

	"classtrack/internal/dates"
	"classtrack/internal/metrics"
)

// Repository persists class overrides, unique on the composite key.
type Repository interface {
	// Upsert is idempotent per (streamID, classDate, subject, entryIndex):
	// re-writing the same key updates the row in place.
	Upsert(ctx context.Context, ov Override) (Override, error)
	// ListRange fetches, in one query, every override for the stream with
	// classDate in [start, end].
	ListRange(ctx context.Context, streamID string, start, end time.Time) ([]Override, error)
}

// AccessChecker guards engine calls with stream membership checks.
type AccessChecker interface {
	RequireMember(ctx context.Context, userID, streamID string) error
	RequireAdmin(ctx context.Context, userID, streamID string) error
}

// Service manages admin-authored overrides.
type Service struct {
	repo   Repository
	access AccessChecker
}

func NewService(repo Repository, access AccessChecker) *Service {
	return &Service{repo: repo, access: access}
}

// Upsert validates and writes an override on behalf of a stream admin.
func (svc *Service) Upsert(ctx context.Context, userID, streamID string, ov Override) (Override, error) {
	if err := svc.access.RequireAdmin(ctx, userID, streamID); err != nil {
		return Override{}, err
	}
	ov.StreamID = streamID
	ov.ClassDate = dates.Day(ov.ClassDate)
	ov.CreatedBy = userID
	if err := ov.Validate(); err != nil {
		return Override{}, err
	}
	saved, err := svc.repo.Upsert(ctx, ov)
	if err != nil {
		return Override{}, err
	}
	metrics.OverridesUpserted.WithLabelValues(string(saved.Type)).Inc()
	return saved, nil
}

// ListRange returns the stream's overrides with classDate in [start, end].
func (svc *Service) ListRange(ctx context.Context, userID, streamID string, start, end time.Time) ([]Override, error) {
	if err := svc.access.RequireMember(ctx, userID, streamID); err != nil {
		return nil, err
	}
	return svc.repo.ListRange(ctx, streamID, dates.Day(start), dates.Day(end))
}
