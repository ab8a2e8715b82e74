package override

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository persists overrides in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, ov Override) (Override, error) {
	if ov.ID == "" {
		ov.ID = uuid.NewString()
	}
	var repl Replacement
	if ov.Replacement != nil {
		repl = *ov.Replacement
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO class_overrides
			(id, stream_id, class_date, subject_name, entry_index, override_type,
			 repl_subject, repl_course, repl_start, repl_end, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (stream_id, class_date, subject_name, entry_index) DO UPDATE SET
			override_type = EXCLUDED.override_type,
			repl_subject  = EXCLUDED.repl_subject,
			repl_course   = EXCLUDED.repl_course,
			repl_start    = EXCLUDED.repl_start,
			repl_end      = EXCLUDED.repl_end,
			updated_at    = NOW()
		RETURNING id, created_at, updated_at
	`, ov.ID, ov.StreamID, ov.ClassDate, ov.Subject, ov.EntryIndex, ov.Type,
		repl.Subject, repl.CourseCode, repl.StartTime, repl.EndTime, ov.CreatedBy)
	if err := row.Scan(&ov.ID, &ov.CreatedAt, &ov.UpdatedAt); err != nil {
		return Override{}, err
	}
	return ov, nil
}

func (r *PostgresRepository) ListRange(ctx context.Context, streamID string, start, end time.Time) ([]Override, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, stream_id, class_date, subject_name, entry_index, override_type,
		       repl_subject, repl_course, repl_start, repl_end, created_by, created_at, updated_at
		FROM class_overrides
		WHERE stream_id = $1 AND class_date BETWEEN $2 AND $3
		ORDER BY class_date, subject_name, entry_index
	`, streamID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var ov Override
		var repl Replacement
		if err := rows.Scan(&ov.ID, &ov.StreamID, &ov.ClassDate, &ov.Subject, &ov.EntryIndex, &ov.Type,
			&repl.Subject, &repl.CourseCode, &repl.StartTime, &repl.EndTime,
			&ov.CreatedBy, &ov.CreatedAt, &ov.UpdatedAt); err != nil {
			return nil, err
		}
		ov.ClassDate = ov.ClassDate.UTC()
		if ov.Type != TypeCancelled {
			r := repl
			ov.Replacement = &r
		}
		out = append(out, ov)
	}
	return out, rows.Err()
}
