package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"uniattend/internal/store"
)

// Record is the durable proof that a student attended a session.
type Record struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"studentId"`
	SessionID  string    `json:"sessionId"`
	MarkedBy   string    `json:"markedBy,omitempty"`
	RecordedAt time.Time `json:"timestamp"`
}

// HistoryEntry is a record joined with its session.
type HistoryEntry struct {
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	Course    string    `json:"course"`
	StartsAt  time.Time `json:"startsAt"`
	Timestamp time.Time `json:"timestamp"`
	MarkedBy  string    `json:"markedBy,omitempty"`
}

// Repository persists attendance records.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

// Insert writes a record. A second record for the same student and session
// fails with store.ErrDuplicate.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, session_id, marked_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.StudentID, rec.SessionID, store.NullString(rec.MarkedBy), rec.RecordedAt)
	return store.Translate(err)
}

// Exists reports whether the student already has a record for the session.
func (r *Repository) Exists(ctx context.Context, studentID, sessionID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM attendance_records WHERE student_id = $1 AND session_id = $2
	`, studentID, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// BySession returns the session's records keyed by student id.
func (r *Repository) BySession(ctx context.Context, sessionID string) (map[string]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, session_id, marked_by, recorded_at
		FROM attendance_records WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Record)
	for rows.Next() {
		var (
			rec      Record
			markedBy sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &markedBy, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.MarkedBy = markedBy.String
		out[rec.StudentID] = rec
	}
	return out, rows.Err()
}

// ByStudent returns a student's attendance, newest session first.
func (r *Repository) ByStudent(ctx context.Context, studentID string) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.course, s.starts_at, a.recorded_at, a.marked_by
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		WHERE a.student_id = $1
		ORDER BY s.starts_at DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []HistoryEntry{}
	for rows.Next() {
		var (
			h        HistoryEntry
			markedBy sql.NullString
		)
		if err := rows.Scan(&h.SessionID, &h.Title, &h.Course, &h.StartsAt, &h.Timestamp, &markedBy); err != nil {
			return nil, err
		}
		h.MarkedBy = markedBy.String
		res = append(res, h)
	}
	return res, rows.Err()
}

// Count returns the number of records.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_records`).Scan(&n)
	return n, err
}
