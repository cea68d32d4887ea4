package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"uniattend/internal/realtime"
	"uniattend/internal/store"
)

// Attendee is an entry of the session's embedded attendance list.
type Attendee struct {
	StudentID string    `json:"studentId"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one attendance window for a department and level.
type Session struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Course          string     `json:"course"`
	DeptID          string     `json:"departmentId"`
	Level           string     `json:"level"`
	CreatedBy       string     `json:"createdBy"`
	StartsAt        time.Time  `json:"startsAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	DurationMinutes int        `json:"durationMinutes"`
	IsActive        bool       `json:"isActive"`
	Attendees       []Attendee `json:"attendedStudents,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Live reports whether students can still mark attendance at now.
func (s Session) Live(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// Room is the realtime room for the session's class.
func (s Session) Room() string {
	return realtime.Room(s.DeptID, s.Level)
}

// Repository persists sessions.
type Repository struct {
	db   store.DBTX
	lock string
}

// NewRepository creates a repo. lock is appended to reads that precede a write
// in the same transaction (see store.DB.LockClause).
func NewRepository(db store.DBTX, lock string) *Repository {
	return &Repository{db: db, lock: lock}
}

const columns = `id, title, course, dept_id, level, created_by, starts_at, expires_at, duration_minutes, is_active, attendees, created_at, updated_at`

func scan(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s         Session
		attendees string
	)
	err := row.Scan(&s.ID, &s.Title, &s.Course, &s.DeptID, &s.Level, &s.CreatedBy, &s.StartsAt, &s.ExpiresAt,
		&s.DurationMinutes, &s.IsActive, &attendees, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	s.Attendees = []Attendee{}
	if attendees != "" {
		if err := json.Unmarshal([]byte(attendees), &s.Attendees); err != nil {
			return Session{}, err
		}
	}
	return s, nil
}

func encodeAttendees(list []Attendee) string {
	if list == nil {
		list = []Attendee{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.ID, s.Title, s.Course, s.DeptID, s.Level, s.CreatedBy, s.StartsAt, s.ExpiresAt,
		s.DurationMinutes, s.IsActive, encodeAttendees(s.Attendees), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (*Session, error) {
	s, err := scan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Get returns nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	return r.one(ctx, `SELECT `+columns+` FROM sessions WHERE id = $1`, id)
}

// FindOpen returns the session only if it is active, unexpired at now and,
// when owner is set, created by owner. Absence and ownership mismatch are
// indistinguishable.
func (r *Repository) FindOpen(ctx context.Context, id, owner string, now time.Time) (*Session, error) {
	return r.one(ctx, `
		SELECT `+columns+` FROM sessions
		WHERE id = $1 AND is_active = TRUE AND ($2 = '' OR created_by = $2) AND expires_at > $3
	`+r.lock, id, owner, now)
}

// Lock reads a session with a row lock for an attendee append.
func (r *Repository) Lock(ctx context.Context, id string) (*Session, error) {
	return r.one(ctx, `SELECT `+columns+` FROM sessions WHERE id = $1`+r.lock, id)
}

// SetExpiry moves the expiry of an active session.
func (r *Repository) SetExpiry(ctx context.Context, id string, expiresAt, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET expires_at = $1, updated_at = $2
		WHERE id = $3 AND is_active = TRUE
	`, expiresAt, now, id)
	return affected(res, err)
}

// Close deactivates an active session and pins its expiry to now.
func (r *Repository) Close(ctx context.Context, id, owner string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE, expires_at = $1, updated_at = $1
		WHERE id = $2 AND is_active = TRUE AND ($3 = '' OR created_by = $3)
	`, now, id, owner)
	return affected(res, err)
}

// Deactivate flips an expired session to inactive. It reports false when the
// session was closed or extended in the meantime.
func (r *Repository) Deactivate(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE, updated_at = $1
		WHERE id = $2 AND is_active = TRUE AND expires_at <= $1
	`, now, id)
	return affected(res, err)
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetAttendees rewrites the embedded attendance list.
func (r *Repository) SetAttendees(ctx context.Context, id string, list []Attendee, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET attendees = $1, updated_at = $2 WHERE id = $3
	`, encodeAttendees(list), now, id)
	return err
}

// ActiveFor returns the newest live session for a class, or nil.
func (r *Repository) ActiveFor(ctx context.Context, deptID, level string, now time.Time) (*Session, error) {
	return r.one(ctx, `
		SELECT `+columns+` FROM sessions
		WHERE dept_id = $1 AND level = $2 AND is_active = TRUE AND expires_at > $3
		ORDER BY starts_at DESC
		LIMIT 1
	`, deptID, level, now)
}

// List returns sessions newest first, filtered by class when deptID is set.
func (r *Repository) List(ctx context.Context, deptID, level string) ([]Session, error) {
	return r.many(ctx, `
		SELECT `+columns+` FROM sessions
		WHERE ($1 = '' OR (dept_id = $1 AND level = $2))
		ORDER BY starts_at DESC
	`, deptID, level)
}

// ListExpired returns active sessions whose expiry has passed.
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]Session, error) {
	return r.many(ctx, `
		SELECT `+columns+` FROM sessions
		WHERE is_active = TRUE AND expires_at <= $1
		ORDER BY expires_at
	`, now)
}

func (r *Repository) many(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Session{}
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Counts returns total sessions and those currently live.
func (r *Repository) Counts(ctx context.Context, now time.Time) (total, live int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_active = TRUE AND expires_at > $1 THEN 1 ELSE 0 END), 0)
		FROM sessions
	`, now).Scan(&total, &live)
	return total, live, err
}
