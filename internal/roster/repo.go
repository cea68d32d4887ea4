package roster

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"uniattend/internal/account"
	"uniattend/internal/store"
)

// Student is one roster entry.
type Student struct {
	ID        string    `json:"id"`
	RegNo     string    `json:"regNo"`
	Surname   string    `json:"surname"`
	FirstName string    `json:"firstname"`
	DeptID    string    `json:"deptId"`
	Level     string    `json:"level"`
	Option    string    `json:"option,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Repository persists the roster.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo over a connection or transaction.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

const columns = `id, reg_no, surname, first_name, dept_id, level, study_option, created_at, updated_at`

func scan(row interface{ Scan(...any) error }) (Student, error) {
	var (
		s      Student
		option sql.NullString
	)
	if err := row.Scan(&s.ID, &s.RegNo, &s.Surname, &s.FirstName, &s.DeptID, &s.Level, &option, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Student{}, err
	}
	s.Option = option.String
	return s, nil
}

// Upsert inserts the entry or overwrites name and placement of the existing
// one with the same reg number. The id of an existing entry is kept.
func (r *Repository) Upsert(ctx context.Context, s Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (reg_no) DO UPDATE SET
			surname = EXCLUDED.surname,
			first_name = EXCLUDED.first_name,
			dept_id = EXCLUDED.dept_id,
			level = EXCLUDED.level,
			study_option = EXCLUDED.study_option,
			updated_at = EXCLUDED.updated_at
	`, s.ID, s.RegNo, s.Surname, s.FirstName, s.DeptID, s.Level, store.NullString(s.Option), s.CreatedAt, s.UpdatedAt)
	return err
}

// GetByRegNo returns nil when absent.
func (r *Repository) GetByRegNo(ctx context.Context, regNo string) (*Student, error) {
	return r.one(ctx, `SELECT `+columns+` FROM students WHERE reg_no = $1`, regNo)
}

// GetByID returns nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*Student, error) {
	return r.one(ctx, `SELECT `+columns+` FROM students WHERE id = $1`, id)
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (*Student, error) {
	s, err := scan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ByIDs loads the given entries keyed by id. Unknown ids are skipped.
func (r *Repository) ByIDs(ctx context.Context, ids []string) (map[string]Student, error) {
	out := make(map[string]Student, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	holders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		holders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM students WHERE id IN (`+strings.Join(holders, ", ")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

// ListByScope returns the class list for a department and level.
func (r *Repository) ListByScope(ctx context.Context, deptID, level string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM students
		WHERE dept_id = $1 AND level = $2
		ORDER BY reg_no
	`, deptID, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Student{}
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Count returns the number of roster entries.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}

// MatchSignup implements account.RosterMatcher. Surname compares
// case-insensitively and option only when given.
func (r *Repository) MatchSignup(ctx context.Context, regNo, surname, deptID, level, option string) (*account.Profile, error) {
	s, err := r.one(ctx, `
		SELECT `+columns+` FROM students
		WHERE reg_no = $1 AND LOWER(surname) = LOWER($2) AND dept_id = $3 AND level = $4
			AND ($5 = '' OR study_option = $5)
	`, regNo, surname, deptID, level, option)
	if err != nil || s == nil {
		return nil, err
	}
	return &account.Profile{
		Surname:   s.Surname,
		FirstName: s.FirstName,
		DeptID:    s.DeptID,
		Level:     s.Level,
		Option:    s.Option,
	}, nil
}
