package store

import "database/sql"

// Migrate creates the schema if it does not exist yet. Timetable entries are
// immutable once written; attendance and override rows carry the composite
// uniqueness keys the upsert paths rely on.
func Migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS streams (
		id          UUID PRIMARY KEY,
		name        TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS stream_members (
		stream_id   UUID NOT NULL REFERENCES streams(id),
		user_id     TEXT NOT NULL,
		role        TEXT NOT NULL DEFAULT 'student',
		joined_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (stream_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS timetables (
		id          UUID PRIMARY KEY,
		stream_id   UUID NOT NULL REFERENCES streams(id),
		valid_from  DATE NOT NULL,
		valid_until DATE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (stream_id, valid_from)
	);

	CREATE TABLE IF NOT EXISTS timetable_entries (
		id           UUID PRIMARY KEY,
		timetable_id UUID NOT NULL REFERENCES timetables(id),
		day_of_week  SMALLINT NOT NULL CHECK (day_of_week BETWEEN 1 AND 7),
		subject_name TEXT NOT NULL,
		course_code  TEXT NOT NULL DEFAULT '',
		start_time   TEXT NOT NULL DEFAULT '',
		end_time     TEXT NOT NULL DEFAULT '',
		position     INT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS class_overrides (
		id            UUID PRIMARY KEY,
		stream_id     UUID NOT NULL REFERENCES streams(id),
		class_date    DATE NOT NULL,
		subject_name  TEXT NOT NULL,
		entry_index   INT NOT NULL,
		override_type TEXT NOT NULL,
		repl_subject  TEXT NOT NULL DEFAULT '',
		repl_course   TEXT NOT NULL DEFAULT '',
		repl_start    TEXT NOT NULL DEFAULT '',
		repl_end      TEXT NOT NULL DEFAULT '',
		created_by    TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (stream_id, class_date, subject_name, entry_index)
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id              UUID PRIMARY KEY,
		user_id         TEXT NOT NULL,
		stream_id       UUID NOT NULL REFERENCES streams(id),
		subject_name    TEXT NOT NULL,
		class_date      DATE NOT NULL,
		subject_index   INT NOT NULL,
		is_replacement  BOOLEAN NOT NULL DEFAULT FALSE,
		status          TEXT NOT NULL,
		marked_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		orig_subject    TEXT NOT NULL DEFAULT '',
		orig_start      TEXT NOT NULL DEFAULT '',
		orig_end        TEXT NOT NULL DEFAULT '',
		UNIQUE (user_id, stream_id, subject_name, class_date, subject_index, is_replacement)
	);

	CREATE TABLE IF NOT EXISTS bulk_attendance_entries (
		id           UUID PRIMARY KEY,
		user_id      TEXT NOT NULL,
		stream_id    UUID NOT NULL REFERENCES streams(id),
		subject_name TEXT NOT NULL,
		attended     INT NOT NULL,
		held         INT NOT NULL,
		range_start  DATE NOT NULL,
		range_end    DATE NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_timetables_stream_valid
		ON timetables (stream_id, valid_from);
	CREATE INDEX IF NOT EXISTS idx_overrides_stream_date
		ON class_overrides (stream_id, class_date);
	CREATE INDEX IF NOT EXISTS idx_attendance_user_stream_date
		ON attendance_records (user_id, stream_id, class_date);
	`
	_, err := db.Exec(schema)
	return err
}
