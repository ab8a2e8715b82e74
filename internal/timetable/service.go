package timetable

import (
	"context"
	"regexp"
	"time"

	"classtrack/internal/apperrors"
	"classtrack/internal/dates"
)

// Repository persists timetable versions with their entries.
type Repository interface {
	CreateTimetable(ctx context.Context, tt Timetable) (Timetable, error)
	// LatestTimetable returns the version with maximal validFrom, or NotFound.
	LatestTimetable(ctx context.Context, streamID string) (Timetable, error)
	// EarliestTimetable returns the version with minimal validFrom, or NotFound.
	EarliestTimetable(ctx context.Context, streamID string) (Timetable, error)
	// CloseTimetable sets validUntil on a previously open-ended version.
	CloseTimetable(ctx context.Context, id string, until time.Time) error
	// ListIntersecting fetches, in one query, every version whose validity
	// window intersects [start, end], entries included.
	ListIntersecting(ctx context.Context, streamID string, start, end time.Time) ([]Timetable, error)
}

// AccessChecker guards engine calls with stream membership checks.
type AccessChecker interface {
	RequireMember(ctx context.Context, userID, streamID string) error
	RequireAdmin(ctx context.Context, userID, streamID string) error
}

// Service manages versioned timetables and serves schedule expansion.
type Service struct {
	repo   Repository
	access AccessChecker
}

func NewService(repo Repository, access AccessChecker) *Service {
	return &Service{repo: repo, access: access}
}

var timeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// NewTimetable is the input for creating a timetable version.
type NewTimetable struct {
	ValidFrom time.Time
	Entries   []Entry
}

// Create appends a new timetable version for a stream. The new version's
// validFrom must be strictly after the previous latest version's validFrom;
// a previously open-ended version is closed to the day before.
func (svc *Service) Create(ctx context.Context, userID, streamID string, nt NewTimetable) (Timetable, error) {
	if err := svc.access.RequireAdmin(ctx, userID, streamID); err != nil {
		return Timetable{}, err
	}
	if len(nt.Entries) == 0 {
		return Timetable{}, apperrors.NewValidation("timetable needs at least one entry",
			apperrors.FieldError{Field: "entries", Error: "required"})
	}
	for _, e := range nt.Entries {
		if e.DayOfWeek < 1 || e.DayOfWeek > 7 {
			return Timetable{}, apperrors.NewValidation("day_of_week out of range",
				apperrors.FieldError{Field: "day_of_week", Error: "must be 1..7 (ISO, Monday=1)"})
		}
		if e.Subject == "" {
			return Timetable{}, apperrors.NewValidation("subject required",
				apperrors.FieldError{Field: "subject_name", Error: "required"})
		}
		if e.StartTime != "" && !timeRe.MatchString(e.StartTime) {
			return Timetable{}, apperrors.NewValidation("malformed start time",
				apperrors.FieldError{Field: "start_time", Error: "expected HH:MM"})
		}
		if e.EndTime != "" && !timeRe.MatchString(e.EndTime) {
			return Timetable{}, apperrors.NewValidation("malformed end time",
				apperrors.FieldError{Field: "end_time", Error: "expected HH:MM"})
		}
	}

	validFrom := dates.Day(nt.ValidFrom)
	latest, err := svc.repo.LatestTimetable(ctx, streamID)
	switch {
	case err == nil:
		if !validFrom.After(dates.Day(latest.ValidFrom)) {
			return Timetable{}, apperrors.NewValidation("valid_from must be after the current version",
				apperrors.FieldError{Field: "valid_from", Error: "must be strictly after " + dates.FormatDay(latest.ValidFrom)})
		}
		if latest.ValidUntil == nil {
			until := validFrom.AddDate(0, 0, -1)
			if err := svc.repo.CloseTimetable(ctx, latest.ID, until); err != nil {
				return Timetable{}, err
			}
		}
	case apperrors.IsNotFound(err):
		// first version for this stream
	default:
		return Timetable{}, err
	}

	return svc.repo.CreateTimetable(ctx, Timetable{
		StreamID:  streamID,
		ValidFrom: validFrom,
		Entries:   nt.Entries,
		CreatedAt: time.Now().UTC(),
	})
}

// Active returns the timetable active on date, or nil if none.
func (svc *Service) Active(ctx context.Context, userID, streamID string, date time.Time) (*Timetable, error) {
	if err := svc.access.RequireMember(ctx, userID, streamID); err != nil {
		return nil, err
	}
	day := dates.Day(date)
	candidates, err := svc.repo.ListIntersecting(ctx, streamID, day, day)
	if err != nil {
		return nil, err
	}
	return ActiveOn(candidates, day), nil
}

// Schedule expands the stream's base schedule over [start, end]. The relevant
// versions are fetched once and each day resolved in memory.
func (svc *Service) Schedule(ctx context.Context, userID, streamID string, start, end time.Time) ([]ScheduleEntry, error) {
	if err := svc.access.RequireMember(ctx, userID, streamID); err != nil {
		return nil, err
	}
	if dates.Day(end).Before(dates.Day(start)) {
		return nil, apperrors.NewValidation("range end before start",
			apperrors.FieldError{Field: "to", Error: "must not precede from"})
	}
	candidates, err := svc.repo.ListIntersecting(ctx, streamID, dates.Day(start), dates.Day(end))
	if err != nil {
		return nil, err
	}
	return ExpandRange(candidates, start, end), nil
}
