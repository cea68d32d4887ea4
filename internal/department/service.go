package department

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"uniattend/internal/apperr"
	"uniattend/internal/clock"
	"uniattend/internal/store"
)

// Service manages the faculty/department directory.
type Service struct {
	repo  *Repository
	clock clock.Clock
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clock: clk}
}

// CreateFaculty adds a faculty with a unique name.
func (s *Service) CreateFaculty(ctx context.Context, name string) (Faculty, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Faculty{}, apperr.Invalid("Faculty name is required.")
	}
	f := Faculty{ID: uuid.NewString(), Name: name, CreatedAt: s.clock.Now()}
	if err := s.repo.InsertFaculty(ctx, f); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Faculty{}, apperr.Conflict("Faculty already exists.")
		}
		log.Printf("[ERROR] create faculty: %v", err)
		return Faculty{}, apperr.Internal("Could not create faculty.")
	}
	return f, nil
}

// ListFaculties returns every faculty.
func (s *Service) ListFaculties(ctx context.Context) ([]Faculty, error) {
	res, err := s.repo.ListFaculties(ctx)
	if err != nil {
		log.Printf("[ERROR] list faculties: %v", err)
		return nil, apperr.Internal("Could not list faculties.")
	}
	return res, nil
}

// CreateDepartmentInput carries the admin form.
type CreateDepartmentInput struct {
	FacultyID string   `json:"facultyId"`
	Name      string   `json:"name"`
	Levels    []string `json:"levels"`
	Options   []string `json:"options"`
}

// CreateDepartment adds a department under an existing faculty.
func (s *Service) CreateDepartment(ctx context.Context, in CreateDepartmentInput) (Department, error) {
	name := strings.TrimSpace(in.Name)
	if in.FacultyID == "" || name == "" || in.Levels == nil {
		return Department{}, apperr.Invalid("Missing required fields.")
	}
	fac, err := s.repo.GetFaculty(ctx, in.FacultyID)
	if err != nil {
		log.Printf("[ERROR] load faculty %s: %v", in.FacultyID, err)
		return Department{}, apperr.Internal("Could not create department.")
	}
	if fac == nil {
		return Department{}, apperr.NotFound("Faculty not found.")
	}

	now := s.clock.Now()
	d := Department{
		ID:        uuid.NewString(),
		FacultyID: fac.ID,
		Name:      name,
		Levels:    trimAll(in.Levels),
		Options:   trimAll(in.Options),
		Courses:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertDepartment(ctx, d); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Department{}, apperr.Conflict("Department already exists in this faculty.")
		}
		log.Printf("[ERROR] create department: %v", err)
		return Department{}, apperr.Internal("Could not create department.")
	}
	return d, nil
}

// UpdateDepartment replaces courses and/or options. A nil slice leaves the
// field unchanged.
func (s *Service) UpdateDepartment(ctx context.Context, id string, courses, options []string) (Department, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return Department{}, err
	}
	if courses != nil {
		d.Courses = trimAll(courses)
	}
	if options != nil {
		d.Options = trimAll(options)
	}
	d.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateDepartment(ctx, d); err != nil {
		log.Printf("[ERROR] update department %s: %v", id, err)
		return Department{}, apperr.Internal("Could not update department.")
	}
	return d, nil
}

// Get returns a department or NotFound.
func (s *Service) Get(ctx context.Context, id string) (Department, error) {
	d, err := s.repo.GetDepartment(ctx, id)
	if err != nil {
		log.Printf("[ERROR] load department %s: %v", id, err)
		return Department{}, apperr.Internal("Could not load department.")
	}
	if d == nil {
		return Department{}, apperr.NotFound("Department not found.")
	}
	return *d, nil
}

// List returns departments, optionally for one faculty.
func (s *Service) List(ctx context.Context, facultyID string) ([]Department, error) {
	res, err := s.repo.ListDepartments(ctx, facultyID)
	if err != nil {
		log.Printf("[ERROR] list departments: %v", err)
		return nil, apperr.Internal("Could not list departments.")
	}
	return res, nil
}

// FindOrCreate resolves a (faculty, department) pair by name, creating either
// when missing. A new department starts with the given level and option.
func (s *Service) FindOrCreate(ctx context.Context, facultyName, deptName, level, option string) (Department, error) {
	now := s.clock.Now()
	fac, err := s.repo.FacultyByName(ctx, facultyName)
	if err != nil {
		return Department{}, err
	}
	if fac == nil {
		fac = &Faculty{ID: uuid.NewString(), Name: facultyName, CreatedAt: now}
		if err := s.repo.InsertFaculty(ctx, *fac); err != nil {
			return Department{}, err
		}
	}

	d, err := s.repo.DepartmentByName(ctx, fac.ID, deptName)
	if err != nil {
		return Department{}, err
	}
	if d != nil {
		return *d, nil
	}
	nd := Department{
		ID:        uuid.NewString(),
		FacultyID: fac.ID,
		Name:      deptName,
		Levels:    nonEmpty(level),
		Options:   nonEmpty(option),
		Courses:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertDepartment(ctx, nd); err != nil {
		return Department{}, err
	}
	return nd, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func nonEmpty(v string) []string {
	if v == "" {
		return []string{}
	}
	return []string{v}
}
