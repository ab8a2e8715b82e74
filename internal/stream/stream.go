package stream

import (
	"context"
	"time"

	"classtrack/internal/apperrors"
)

// Member roles within a stream.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// Stream is a cohort owning one timetable lineage and one set of members.
type Stream struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Member ties a user to a stream with a role.
type Member struct {
	StreamID string    `json:"stream_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Repository persists streams and memberships.
type Repository interface {
	CreateStream(ctx context.Context, s Stream) (Stream, error)
	GetStream(ctx context.Context, id string) (Stream, error)
	UpsertMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, streamID, userID string) (Member, error)
	ListMembers(ctx context.Context, streamID string) ([]Member, error)
}

// Service implements stream management and the access checks every engine
// operation runs first.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, name, adminUserID string) (Stream, error) {
	if name == "" {
		return Stream{}, apperrors.NewValidation("stream name required",
			apperrors.FieldError{Field: "name", Error: "required"})
	}
	s, err := svc.repo.CreateStream(ctx, Stream{Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		return Stream{}, err
	}
	err = svc.repo.UpsertMember(ctx, Member{
		StreamID: s.ID,
		UserID:   adminUserID,
		Role:     RoleAdmin,
		JoinedAt: time.Now().UTC(),
	})
	return s, err
}

func (svc *Service) AddMember(ctx context.Context, actorID, streamID, userID, role string) error {
	if err := svc.RequireAdmin(ctx, actorID, streamID); err != nil {
		return err
	}
	if role != RoleStudent && role != RoleAdmin {
		return apperrors.NewValidation("unknown role",
			apperrors.FieldError{Field: "role", Error: "must be student or admin"})
	}
	return svc.repo.UpsertMember(ctx, Member{
		StreamID: streamID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	})
}

// Members lists the stream's membership for a caller who belongs to it.
func (svc *Service) Members(ctx context.Context, callerID, streamID string) ([]Member, error) {
	if err := svc.RequireMember(ctx, callerID, streamID); err != nil {
		return nil, err
	}
	return svc.repo.ListMembers(ctx, streamID)
}

// RequireMember verifies the stream exists and the user belongs to it.
func (svc *Service) RequireMember(ctx context.Context, userID, streamID string) error {
	if _, err := svc.repo.GetStream(ctx, streamID); err != nil {
		return err
	}
	if _, err := svc.repo.GetMember(ctx, streamID, userID); err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewForbidden("user %s is not a member of stream %s", userID, streamID)
		}
		return err
	}
	return nil
}

// RequireAdmin verifies the user administers the stream.
func (svc *Service) RequireAdmin(ctx context.Context, userID, streamID string) error {
	if _, err := svc.repo.GetStream(ctx, streamID); err != nil {
		return err
	}
	m, err := svc.repo.GetMember(ctx, streamID, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewForbidden("user %s is not a member of stream %s", userID, streamID)
		}
		return err
	}
	if m.Role != RoleAdmin {
		return apperrors.NewForbidden("user %s is not an admin of stream %s", userID, streamID)
	}
	return nil
}
