package stream

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"classtrack/internal/apperrors"
)

// PostgresRepository persists streams in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateStream(ctx context.Context, s Stream) (Stream, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO streams (id, name)
		VALUES ($1, $2)
		RETURNING created_at
	`, s.ID, s.Name)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Stream{}, err
	}
	return s, nil
}

func (r *PostgresRepository) GetStream(ctx context.Context, id string) (Stream, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM streams WHERE id = $1
	`, id)
	var s Stream
	if err := row.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Stream{}, apperrors.NewNotFound("stream %s not found", id)
		}
		return Stream{}, err
	}
	return s, nil
}

func (r *PostgresRepository) UpsertMember(ctx context.Context, m Member) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stream_members (stream_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, m.StreamID, m.UserID, m.Role, m.JoinedAt)
	return err
}

func (r *PostgresRepository) GetMember(ctx context.Context, streamID, userID string) (Member, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT stream_id, user_id, role, joined_at
		FROM stream_members WHERE stream_id = $1 AND user_id = $2
	`, streamID, userID)
	var m Member
	if err := row.Scan(&m.StreamID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, apperrors.NewNotFound("user %s not in stream %s", userID, streamID)
		}
		return Member{}, err
	}
	return m, nil
}

func (r *PostgresRepository) ListMembers(ctx context.Context, streamID string) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT stream_id, user_id, role, joined_at
		FROM stream_members WHERE stream_id = $1
		ORDER BY user_id
	`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.StreamID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
