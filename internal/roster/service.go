package roster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"uniattend/internal/account"
	"uniattend/internal/apperr"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/department"
	"uniattend/internal/metrics"
	"uniattend/internal/store"
)

// Departments lists and resolves departments.
type Departments interface {
	GetDepartment(ctx context.Context, id string) (*department.Department, error)
	ListDepartments(ctx context.Context, facultyID string) ([]department.Department, error)
}

// Summary reports the outcome of a bulk upload.
type Summary struct {
	TotalRows        int      `json:"totalRows"`
	RosterUpserted   int      `json:"rosterUpserted"`
	UserUpserted     int      `json:"userUpserted"`
	NewStudentsAdded int      `json:"newStudentsAdded"`
	ErrorsCount      int      `json:"errorsCount"`
	Errors           []string `json:"errors"`
}

// Service imports class lists into the roster and provisions accounts.
type Service struct {
	db    *store.DB
	repo  *Repository
	depts Departments
	clock clock.Clock
	cost  int
}

// NewService wires the roster workflows; cost is the bcrypt cost used for
// initial passwords.
func NewService(db *store.DB, depts Departments, clk clock.Clock, cost int) *Service {
	return &Service{db: db, repo: NewRepository(db.Client), depts: depts, clock: clk, cost: cost}
}

// Repo exposes the read side for other workflows.
func (s *Service) Repo() *Repository { return s.repo }

type pending struct {
	student Student
	hash    string // set when no account exists yet
}

// UploadFull imports every row of a class list. Rows naming an unknown
// department are reported in the summary and skipped. Existing accounts keep
// their password and role; new ones get the surname as initial password.
func (s *Service) UploadFull(ctx context.Context, filename string, r io.Reader) (Summary, error) {
	rows, err := s.parse(filename, r)
	if err != nil {
		return Summary{}, err
	}
	depts, err := s.depts.ListDepartments(ctx, "")
	if err != nil {
		log.Printf("[ERROR] roster upload: list departments: %v", err)
		return Summary{}, apperr.Internal("Error processing student list file.")
	}
	byName := make(map[string]department.Department, len(depts))
	for _, d := range depts {
		key := strings.ToUpper(d.Name)
		if _, ok := byName[key]; !ok {
			byName[key] = d
		}
	}

	sum := Summary{TotalRows: len(rows), Errors: []string{}}
	var batch []Student
	for _, row := range rows {
		if row.RegNo == "" {
			sum.Errors = append(sum.Errors, fmt.Sprintf("Row %d: registration number missing.", row.Line))
			continue
		}
		d, ok := byName[strings.ToUpper(row.DeptName)]
		if !ok {
			sum.Errors = append(sum.Errors, fmt.Sprintf("RegNo %s: Department '%s' not found.", row.RegNo, row.DeptName))
			continue
		}
		batch = append(batch, s.student(row, d.ID, row.Level))
	}

	if err := s.write(ctx, batch, true, &sum); err != nil {
		return Summary{}, err
	}
	sum.ErrorsCount = len(sum.Errors)
	metrics.RosterRows.WithLabelValues("upserted").Add(float64(sum.RosterUpserted))
	metrics.RosterRows.WithLabelValues("rejected").Add(float64(sum.ErrorsCount))
	log.Printf("[INFO] roster upload: rows=%d roster=%d accounts=%d errors=%d", sum.TotalRows, sum.RosterUpserted, sum.UserUpserted, sum.ErrorsCount)
	return sum, nil
}

// UploadPartial imports only the rows belonging to the rep's own department
// and level. Accounts are created for new reg numbers and never modified.
func (s *Service) UploadPartial(ctx context.Context, rep auth.Principal, filename string, r io.Reader) (Summary, error) {
	if rep.DeptID == "" || rep.Level == "" {
		return Summary{}, apperr.Forbidden("Your account is not attached to a class.")
	}
	d, err := s.depts.GetDepartment(ctx, rep.DeptID)
	if err != nil {
		log.Printf("[ERROR] partial upload: load department %s: %v", rep.DeptID, err)
		return Summary{}, apperr.Internal("Error processing partial student list file.")
	}
	if d == nil {
		return Summary{}, apperr.NotFound("Department not found.")
	}

	rows, err := s.parse(filename, r)
	if err != nil {
		return Summary{}, err
	}
	var batch []Student
	for _, row := range rows {
		if row.RegNo == "" || !strings.EqualFold(row.DeptName, d.Name) || row.Level != rep.Level {
			continue
		}
		batch = append(batch, s.student(row, d.ID, rep.Level))
	}
	if len(batch) == 0 {
		return Summary{}, apperr.Invalid("No student data found relevant to your class in the file.")
	}

	sum := Summary{TotalRows: len(batch), Errors: []string{}}
	if err := s.write(ctx, batch, false, &sum); err != nil {
		return Summary{}, err
	}
	metrics.RosterRows.WithLabelValues("upserted").Add(float64(sum.RosterUpserted))
	log.Printf("[INFO] partial roster upload by %s: rows=%d new=%d", rep.RegNo, sum.TotalRows, sum.NewStudentsAdded)
	return sum, nil
}

func (s *Service) parse(filename string, r io.Reader) ([]Row, error) {
	rows, err := Parse(filename, r)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			return nil, apperr.Invalid("Unsupported file type. Upload a .csv or .xlsx file.")
		}
		log.Printf("[ERROR] parse %s: %v", filename, err)
		return nil, apperr.Internal("Error processing student list file.")
	}
	return rows, nil
}

func (s *Service) student(row Row, deptID, level string) Student {
	now := s.clock.Now()
	return Student{
		ID:        uuid.NewString(),
		RegNo:     row.RegNo,
		Surname:   row.Surname,
		FirstName: row.FirstName,
		DeptID:    deptID,
		Level:     level,
		Option:    row.Option,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// write upserts the batch in one transaction. Initial passwords are hashed
// before the transaction opens, and only for reg numbers without an account.
func (s *Service) write(ctx context.Context, batch []Student, updateAccounts bool, sum *Summary) error {
	accounts := account.NewRepository(s.db.Client)
	work := make([]pending, 0, len(batch))
	for _, st := range batch {
		p := pending{student: st}
		existing, err := accounts.GetByRegNo(ctx, st.RegNo)
		if err != nil {
			log.Printf("[ERROR] roster upload: account lookup %s: %v", st.RegNo, err)
			return apperr.Internal("Error processing student list file.")
		}
		if existing == nil {
			if p.hash, err = account.HashPassword(st.Surname, s.cost); err != nil {
				log.Printf("[ERROR] roster upload: hash: %v", err)
				return apperr.Internal("Error processing student list file.")
			}
		}
		work = append(work, p)
	}

	var rosterN, userN, created int
	err := s.db.RunInTx(ctx, func(ctx context.Context, tx store.DBTX) error {
		students := NewRepository(tx)
		accRepo := account.NewRepository(tx)
		for _, p := range work {
			st := p.student
			if err := students.Upsert(ctx, st); err != nil {
				return fmt.Errorf("upsert roster %s: %w", st.RegNo, err)
			}
			rosterN++

			acc := account.Account{
				ID:           uuid.NewString(),
				RegNo:        st.RegNo,
				Surname:      st.Surname,
				FirstName:    st.FirstName,
				PasswordHash: p.hash,
				Role:         auth.RoleStudent,
				DeptID:       st.DeptID,
				Level:        st.Level,
				Option:       st.Option,
				CreatedAt:    st.CreatedAt,
				UpdatedAt:    st.UpdatedAt,
			}
			if p.hash != "" {
				ok, err := accRepo.InsertIfAbsent(ctx, acc)
				if err != nil {
					return fmt.Errorf("insert account %s: %w", st.RegNo, err)
				}
				if ok {
					userN++
					created++
					continue
				}
			}
			if updateAccounts {
				ok, err := accRepo.UpdateProfile(ctx, acc)
				if err != nil {
					return fmt.Errorf("update account %s: %w", st.RegNo, err)
				}
				if ok {
					userN++
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] roster upload: %v", err)
		return apperr.Internal("Error processing student list file.")
	}
	sum.RosterUpserted += rosterN
	sum.UserUpserted += userN
	sum.NewStudentsAdded += created
	return nil
}
