package timetable

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/apperrors"
)

// PostgresRepository persists timetables in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateTimetable(ctx context.Context, tt Timetable) (Timetable, error) {
	if tt.ID == "" {
		tt.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Timetable{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO timetables (id, stream_id, valid_from, valid_until)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, tt.ID, tt.StreamID, tt.ValidFrom, tt.ValidUntil)
	if err := row.Scan(&tt.CreatedAt); err != nil {
		return Timetable{}, err
	}
	for i := range tt.Entries {
		e := &tt.Entries[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO timetable_entries (id, timetable_id, day_of_week, subject_name, course_code, start_time, end_time, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.ID, tt.ID, e.DayOfWeek, e.Subject, e.CourseCode, e.StartTime, e.EndTime, i)
		if err != nil {
			return Timetable{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Timetable{}, err
	}
	return tt, nil
}

func (r *PostgresRepository) LatestTimetable(ctx context.Context, streamID string) (Timetable, error) {
	return r.getOne(ctx, streamID, "DESC")
}

func (r *PostgresRepository) EarliestTimetable(ctx context.Context, streamID string) (Timetable, error) {
	return r.getOne(ctx, streamID, "ASC")
}

func (r *PostgresRepository) getOne(ctx context.Context, streamID, dir string) (Timetable, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, stream_id, valid_from, valid_until, created_at
		FROM timetables
		WHERE stream_id = $1
		ORDER BY valid_from `+dir+`
		LIMIT 1
	`, streamID)
	tt, err := scanTimetable(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Timetable{}, apperrors.NewNotFound("no timetable for stream %s", streamID)
		}
		return Timetable{}, err
	}
	if err := r.loadEntries(ctx, map[string]*Timetable{tt.ID: &tt}); err != nil {
		return Timetable{}, err
	}
	return tt, nil
}

func (r *PostgresRepository) CloseTimetable(ctx context.Context, id string, until time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE timetables SET valid_until = $2 WHERE id = $1
	`, id, until)
	return err
}

func (r *PostgresRepository) ListIntersecting(ctx context.Context, streamID string, start, end time.Time) ([]Timetable, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, stream_id, valid_from, valid_until, created_at
		FROM timetables
		WHERE stream_id = $1
		  AND valid_from <= $3
		  AND (valid_until IS NULL OR valid_until >= $2)
		ORDER BY valid_from
	`, streamID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Timetable
	byID := make(map[string]*Timetable)
	for rows.Next() {
		tt, err := scanTimetable(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		byID[list[i].ID] = &list[i]
	}
	if err := r.loadEntries(ctx, byID); err != nil {
		return nil, err
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimetable(row rowScanner) (Timetable, error) {
	var tt Timetable
	var until sql.NullTime
	if err := row.Scan(&tt.ID, &tt.StreamID, &tt.ValidFrom, &until, &tt.CreatedAt); err != nil {
		return Timetable{}, err
	}
	tt.ValidFrom = tt.ValidFrom.UTC()
	if until.Valid {
		u := until.Time.UTC()
		tt.ValidUntil = &u
	}
	return tt, nil
}

// loadEntries fetches the entries for every listed timetable in one query.
func (r *PostgresRepository) loadEntries(ctx context.Context, byID map[string]*Timetable) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timetable_id, day_of_week, subject_name, course_code, start_time, end_time
		FROM timetable_entries
		WHERE timetable_id = ANY($1)
		ORDER BY timetable_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var ttID string
		if err := rows.Scan(&e.ID, &ttID, &e.DayOfWeek, &e.Subject, &e.CourseCode, &e.StartTime, &e.EndTime); err != nil {
			return err
		}
		if tt, ok := byID[ttID]; ok {
			tt.Entries = append(tt.Entries, e)
		}
	}
	return rows.Err()
}
