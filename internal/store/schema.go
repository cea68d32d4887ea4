package store

import (
	"context"
	"strings"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS faculties (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS departments (
	id          TEXT PRIMARY KEY,
	faculty_id  TEXT NOT NULL REFERENCES faculties(id),
	name        TEXT NOT NULL,
	levels      TEXT NOT NULL DEFAULT '[]',
	options     TEXT NOT NULL DEFAULT '[]',
	courses     TEXT NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (faculty_id, name)
);

CREATE TABLE IF NOT EXISTS students (
	id            TEXT PRIMARY KEY,
	reg_no        TEXT NOT NULL UNIQUE,
	surname       TEXT NOT NULL,
	first_name    TEXT NOT NULL,
	dept_id       TEXT NOT NULL REFERENCES departments(id),
	level         TEXT NOT NULL,
	study_option  TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_students_scope ON students(dept_id, level);

CREATE TABLE IF NOT EXISTS accounts (
	id                TEXT PRIMARY KEY,
	reg_no            TEXT NOT NULL UNIQUE,
	surname           TEXT NOT NULL,
	first_name        TEXT NOT NULL,
	password_hash     TEXT NOT NULL,
	role              TEXT NOT NULL,
	dept_id           TEXT,
	level             TEXT,
	study_option      TEXT,
	password_changed  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	course            TEXT NOT NULL,
	dept_id           TEXT NOT NULL,
	level             TEXT NOT NULL,
	created_by        TEXT NOT NULL,
	starts_at         TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL,
	duration_minutes  INTEGER NOT NULL,
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	attendees         TEXT NOT NULL DEFAULT '[]',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_scope ON sessions(dept_id, level, is_active);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(is_active, expires_at);

CREATE TABLE IF NOT EXISTS attendance_records (
	id           TEXT PRIMARY KEY,
	student_id   TEXT NOT NULL REFERENCES students(id),
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	marked_by    TEXT,
	recorded_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (student_id, session_id)
);
CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance_records(session_id);
`

// Migrate applies the schema for the connected dialect. Statements are
// idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if d.Dialect == SQLite {
		// mattn/go-sqlite3 only decodes time columns declared as DATETIME/TIMESTAMP.
		schema = strings.ReplaceAll(schema, "TIMESTAMPTZ", "DATETIME")
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
