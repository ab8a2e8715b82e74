package attendance

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository persists attendance rows in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) UpsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, user_id, stream_id, subject_name, class_date, subject_index, is_replacement,
			 status, marked_at, orig_subject, orig_start, orig_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (user_id, stream_id, subject_name, class_date, subject_index, is_replacement)
		DO UPDATE SET status = EXCLUDED.status, marked_at = EXCLUDED.marked_at
		RETURNING id
	`, rec.ID, rec.UserID, rec.StreamID, rec.Subject, rec.ClassDate, rec.SubjectIndex, rec.IsReplacement,
		rec.Status, rec.MarkedAt, rec.OriginalSubject, rec.OriginalStart, rec.OriginalEnd)
	if err := row.Scan(&rec.ID); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, rec Record) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, user_id, stream_id, subject_name, class_date, subject_index, is_replacement,
			 status, marked_at, orig_subject, orig_start, orig_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (user_id, stream_id, subject_name, class_date, subject_index, is_replacement)
		DO NOTHING
	`, rec.ID, rec.UserID, rec.StreamID, rec.Subject, rec.ClassDate, rec.SubjectIndex, rec.IsReplacement,
		rec.Status, rec.MarkedAt, rec.OriginalSubject, rec.OriginalStart, rec.OriginalEnd)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) ListUserRange(ctx context.Context, userID, streamID string, start, end time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, stream_id, subject_name, class_date, subject_index, is_replacement,
		       status, marked_at, orig_subject, orig_start, orig_end
		FROM attendance_records
		WHERE user_id = $1 AND stream_id = $2 AND class_date BETWEEN $3 AND $4
		ORDER BY class_date, subject_name, subject_index
	`, userID, streamID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.StreamID, &rec.Subject, &rec.ClassDate,
			&rec.SubjectIndex, &rec.IsReplacement, &rec.Status, &rec.MarkedAt,
			&rec.OriginalSubject, &rec.OriginalStart, &rec.OriginalEnd); err != nil {
			return nil, err
		}
		rec.ClassDate = rec.ClassDate.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AppendBulk(ctx context.Context, be BulkEntry) (BulkEntry, error) {
	if be.ID == "" {
		be.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO bulk_attendance_entries
			(id, user_id, stream_id, subject_name, attended, held, range_start, range_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, be.ID, be.UserID, be.StreamID, be.Subject, be.Attended, be.Held, be.RangeStart, be.RangeEnd)
	if err := row.Scan(&be.CreatedAt); err != nil {
		return BulkEntry{}, err
	}
	return be, nil
}

func (r *PostgresRepository) ListBulk(ctx context.Context, userID, streamID string) ([]BulkEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, stream_id, subject_name, attended, held, range_start, range_end, created_at
		FROM bulk_attendance_entries
		WHERE user_id = $1 AND stream_id = $2
		ORDER BY created_at DESC
	`, userID, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BulkEntry
	for rows.Next() {
		var be BulkEntry
		if err := rows.Scan(&be.ID, &be.UserID, &be.StreamID, &be.Subject, &be.Attended, &be.Held,
			&be.RangeStart, &be.RangeEnd, &be.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, be)
	}
	return out, rows.Err()
}
