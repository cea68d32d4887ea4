package department

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"uniattend/internal/store"
)

// Faculty owns departments.
type Faculty struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Department declares the levels, options and course codes it offers.
type Department struct {
	ID        string    `json:"id"`
	FacultyID string    `json:"facultyId"`
	Name      string    `json:"name"`
	Levels    []string  `json:"levels"`
	Options   []string  `json:"options"`
	Courses   []string  `json:"courses"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Repository persists faculties and departments.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

// InsertFaculty writes a new faculty. A taken name yields store.ErrDuplicate.
func (r *Repository) InsertFaculty(ctx context.Context, f Faculty) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO faculties (id, name, created_at) VALUES ($1, $2, $3)
	`, f.ID, f.Name, f.CreatedAt)
	return store.Translate(err)
}

// GetFaculty returns nil when absent.
func (r *Repository) GetFaculty(ctx context.Context, id string) (*Faculty, error) {
	return r.scanFaculty(r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM faculties WHERE id = $1`, id))
}

// FacultyByName returns nil when absent.
func (r *Repository) FacultyByName(ctx context.Context, name string) (*Faculty, error) {
	return r.scanFaculty(r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM faculties WHERE name = $1`, name))
}

func (r *Repository) scanFaculty(row *sql.Row) (*Faculty, error) {
	var f Faculty
	if err := row.Scan(&f.ID, &f.Name, &f.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// ListFaculties returns all faculties ordered by name.
func (r *Repository) ListFaculties(ctx context.Context) ([]Faculty, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM faculties ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Faculty{}
	for rows.Next() {
		var f Faculty
		if err := rows.Scan(&f.ID, &f.Name, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

const deptColumns = `id, faculty_id, name, levels, options, courses, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDepartment(s scanner) (Department, error) {
	var (
		d                        Department
		levels, options, courses string
	)
	if err := s.Scan(&d.ID, &d.FacultyID, &d.Name, &levels, &options, &courses, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Department{}, err
	}
	if err := decodeList(levels, &d.Levels); err != nil {
		return Department{}, err
	}
	if err := decodeList(options, &d.Options); err != nil {
		return Department{}, err
	}
	if err := decodeList(courses, &d.Courses); err != nil {
		return Department{}, err
	}
	return d, nil
}

func decodeList(raw string, dst *[]string) error {
	*dst = []string{}
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// InsertDepartment writes a new department. (faculty, name) is unique.
func (r *Repository) InsertDepartment(ctx context.Context, d Department) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO departments (`+deptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.FacultyID, d.Name, encodeList(d.Levels), encodeList(d.Options), encodeList(d.Courses), d.CreatedAt, d.UpdatedAt)
	return store.Translate(err)
}

// GetDepartment returns nil when absent.
func (r *Repository) GetDepartment(ctx context.Context, id string) (*Department, error) {
	d, err := scanDepartment(r.db.QueryRowContext(ctx, `SELECT `+deptColumns+` FROM departments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// DepartmentByName finds a department within a faculty; nil when absent.
func (r *Repository) DepartmentByName(ctx context.Context, facultyID, name string) (*Department, error) {
	d, err := scanDepartment(r.db.QueryRowContext(ctx,
		`SELECT `+deptColumns+` FROM departments WHERE faculty_id = $1 AND name = $2`, facultyID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// ListDepartments returns departments, filtered by faculty when facultyID is set.
func (r *Repository) ListDepartments(ctx context.Context, facultyID string) ([]Department, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deptColumns+` FROM departments
		WHERE ($1 = '' OR faculty_id = $1)
		ORDER BY name
	`, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Department{}
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// UpdateDepartment rewrites the mutable lists.
func (r *Repository) UpdateDepartment(ctx context.Context, d Department) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE departments SET levels = $1, options = $2, courses = $3, updated_at = $4
		WHERE id = $5
	`, encodeList(d.Levels), encodeList(d.Options), encodeList(d.Courses), d.UpdatedAt, d.ID)
	return err
}
