package account

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"uniattend/internal/apperr"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/department"
	"uniattend/internal/store"
)

// MinPasswordLen is the shortest accepted new password.
const MinPasswordLen = 6

// Profile is the roster identity an account is created from.
type Profile struct {
	Surname   string
	FirstName string
	DeptID    string
	Level     string
	Option    string
}

// RosterMatcher validates signup details against the class list.
type RosterMatcher interface {
	MatchSignup(ctx context.Context, regNo, surname, deptID, level, option string) (*Profile, error)
}

// Departments resolves department ids.
type Departments interface {
	GetDepartment(ctx context.Context, id string) (*department.Department, error)
}

// Service handles signup, login, passwords and rep assignment.
type Service struct {
	repo   *Repository
	roster RosterMatcher
	depts  Departments
	clock  clock.Clock
	cost   int
}

// NewService wires the account workflows. cost is the bcrypt cost.
func NewService(repo *Repository, roster RosterMatcher, depts Departments, clk clock.Clock, cost int) *Service {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{repo: repo, roster: roster, depts: depts, clock: clk, cost: cost}
}

// HashPassword hashes pw with bcrypt at the given cost.
func HashPassword(pw string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NormalizeRegNo upper-cases and trims a registration number.
func NormalizeRegNo(regNo string) string {
	return strings.ToUpper(strings.TrimSpace(regNo))
}

// SignupInput is the public signup form.
type SignupInput struct {
	RegNo    string `json:"regNo"`
	Surname  string `json:"surname"`
	DeptID   string `json:"deptId"`
	Level    string `json:"level"`
	Option   string `json:"option"`
	Password string `json:"password"`
}

// Signup creates a student account for someone on the roster.
func (s *Service) Signup(ctx context.Context, in SignupInput) (Account, error) {
	regNo := NormalizeRegNo(in.RegNo)
	surname := strings.TrimSpace(in.Surname)
	if regNo == "" || surname == "" || in.Password == "" || in.DeptID == "" || in.Level == "" {
		return Account{}, apperr.Invalid("Missing required fields for signup.")
	}

	existing, err := s.repo.GetByRegNo(ctx, regNo)
	if err != nil {
		log.Printf("[ERROR] signup lookup %s: %v", regNo, err)
		return Account{}, apperr.Internal("Signup failed.")
	}
	if existing != nil {
		return Account{}, apperr.Conflict("Account already exists for this registration number. Please login.")
	}

	prof, err := s.roster.MatchSignup(ctx, regNo, surname, in.DeptID, strings.TrimSpace(in.Level), strings.TrimSpace(in.Option))
	if err != nil {
		log.Printf("[ERROR] signup roster check %s: %v", regNo, err)
		return Account{}, apperr.Internal("Signup failed.")
	}
	if prof == nil {
		return Account{}, apperr.Unauthorized("You are not on the class list for the selected program. Contact your class rep or check your credentials.")
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		log.Printf("[ERROR] hash password: %v", err)
		return Account{}, apperr.Internal("Signup failed.")
	}
	now := s.clock.Now()
	a := Account{
		ID:           uuid.NewString(),
		RegNo:        regNo,
		Surname:      prof.Surname,
		FirstName:    prof.FirstName,
		PasswordHash: hash,
		Role:         auth.RoleStudent,
		DeptID:       prof.DeptID,
		Level:        prof.Level,
		Option:       prof.Option,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, a); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Account{}, apperr.Conflict("Account already exists for this registration number. Please login.")
		}
		log.Printf("[ERROR] signup insert %s: %v", regNo, err)
		return Account{}, apperr.Internal("Signup failed.")
	}
	return a, nil
}

// Login verifies credentials.
func (s *Service) Login(ctx context.Context, regNo, password string) (Account, error) {
	invalid := apperr.Unauthorized("Invalid registration number or password.")
	regNo = NormalizeRegNo(regNo)
	if regNo == "" || password == "" {
		return Account{}, invalid
	}
	a, err := s.repo.GetByRegNo(ctx, regNo)
	if err != nil {
		log.Printf("[ERROR] login lookup %s: %v", regNo, err)
		return Account{}, apperr.Internal("Login failed.")
	}
	if a == nil || bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return Account{}, invalid
	}
	return *a, nil
}

// ChangePassword replaces the password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	a, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		log.Printf("[ERROR] password lookup %s: %v", accountID, err)
		return apperr.Internal("Could not update password.")
	}
	if a == nil {
		return apperr.NotFound("User not found.")
	}
	if len(newPassword) < MinPasswordLen {
		return apperr.Invalid("New password must be at least 6 characters long.")
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(oldPassword)) != nil {
		return apperr.Unauthorized("Invalid current password.")
	}
	hash, err := HashPassword(newPassword, s.cost)
	if err != nil {
		log.Printf("[ERROR] hash password: %v", err)
		return apperr.Internal("Could not update password.")
	}
	if err := s.repo.SetPassword(ctx, a.ID, hash, s.clock.Now()); err != nil {
		log.Printf("[ERROR] set password %s: %v", a.ID, err)
		return apperr.Internal("Could not update password.")
	}
	return nil
}

// AssignRepInput is the admin form for creating a class rep.
type AssignRepInput struct {
	RegNo  string `json:"regNo"`
	Name   string `json:"name"`
	Level  string `json:"level"`
	DeptID string `json:"deptId"`
	Option string `json:"option"`
}

// AssignRep creates a class_rep account whose initial password is the surname.
// It returns the account and that initial password.
func (s *Service) AssignRep(ctx context.Context, in AssignRepInput) (Account, string, error) {
	regNo := NormalizeRegNo(in.RegNo)
	if regNo == "" || in.DeptID == "" || strings.TrimSpace(in.Level) == "" {
		return Account{}, "", apperr.Invalid("Missing required fields.")
	}
	parts := strings.Fields(in.Name)
	if len(parts) < 2 {
		return Account{}, "", apperr.Invalid("Please provide full name (first and surname).")
	}
	surname := parts[len(parts)-1]
	firstName := strings.Join(parts[:len(parts)-1], " ")

	dept, err := s.depts.GetDepartment(ctx, in.DeptID)
	if err != nil {
		log.Printf("[ERROR] assign rep department %s: %v", in.DeptID, err)
		return Account{}, "", apperr.Internal("Could not assign rep.")
	}
	if dept == nil {
		return Account{}, "", apperr.NotFound("Department not found.")
	}

	hash, err := HashPassword(surname, s.cost)
	if err != nil {
		log.Printf("[ERROR] hash password: %v", err)
		return Account{}, "", apperr.Internal("Could not assign rep.")
	}
	now := s.clock.Now()
	a := Account{
		ID:           uuid.NewString(),
		RegNo:        regNo,
		Surname:      surname,
		FirstName:    firstName,
		PasswordHash: hash,
		Role:         auth.RoleClassRep,
		DeptID:       dept.ID,
		Level:        strings.TrimSpace(in.Level),
		Option:       strings.TrimSpace(in.Option),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, a); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Account{}, "", apperr.Conflict("An account already exists for this registration number.")
		}
		log.Printf("[ERROR] assign rep insert %s: %v", regNo, err)
		return Account{}, "", apperr.Internal("Could not assign rep.")
	}
	return a, surname, nil
}

// Get returns an account by id or NotFound.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.Printf("[ERROR] account lookup %s: %v", id, err)
		return Account{}, apperr.Internal("Could not load account.")
	}
	if a == nil {
		return Account{}, apperr.NotFound("User not found.")
	}
	return *a, nil
}

// LoadPrincipal implements auth.PrincipalLoader.
func (s *Service) LoadPrincipal(ctx context.Context, accountID string) (auth.Principal, error) {
	a, err := s.Get(ctx, accountID)
	if err != nil {
		return auth.Principal{}, err
	}
	return a.Principal(), nil
}

// CountByRole reports account totals per role.
func (s *Service) CountByRole(ctx context.Context) (map[auth.Role]int, error) {
	return s.repo.CountByRole(ctx)
}
