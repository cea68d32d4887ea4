package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"uniattend/internal/auth"
	"uniattend/internal/store"
)

// Account holds login credentials and role for one registration number.
type Account struct {
	ID              string    `json:"id"`
	RegNo           string    `json:"regNo"`
	Surname         string    `json:"surname"`
	FirstName       string    `json:"firstname"`
	PasswordHash    string    `json:"-"`
	Role            auth.Role `json:"role"`
	DeptID          string    `json:"deptId,omitempty"`
	Level           string    `json:"level,omitempty"`
	Option          string    `json:"option,omitempty"`
	PasswordChanged bool      `json:"passwordChanged"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Principal converts the account for the auth layer.
func (a Account) Principal() auth.Principal {
	return auth.Principal{
		ID:              a.ID,
		RegNo:           a.RegNo,
		Role:            a.Role,
		FirstName:       a.FirstName,
		Surname:         a.Surname,
		DeptID:          a.DeptID,
		Level:           a.Level,
		Option:          a.Option,
		PasswordChanged: a.PasswordChanged,
	}
}

// Repository persists accounts.
type Repository struct {
	db store.DBTX
}

// NewRepository creates a repo over a connection or transaction.
func NewRepository(db store.DBTX) *Repository {
	return &Repository{db: db}
}

const columns = `id, reg_no, surname, first_name, password_hash, role, dept_id, level, study_option, password_changed, created_at, updated_at`

func scan(row interface{ Scan(...any) error }) (Account, error) {
	var (
		a                   Account
		role                string
		dept, level, option sql.NullString
	)
	err := row.Scan(&a.ID, &a.RegNo, &a.Surname, &a.FirstName, &a.PasswordHash, &role,
		&dept, &level, &option, &a.PasswordChanged, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	a.Role = auth.Role(role)
	a.DeptID, a.Level, a.Option = dept.String, level.String, option.String
	return a, nil
}

// Insert writes a new account; a taken reg number yields store.ErrDuplicate.
func (r *Repository) Insert(ctx context.Context, a Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.RegNo, a.Surname, a.FirstName, a.PasswordHash, string(a.Role),
		store.NullString(a.DeptID), store.NullString(a.Level), store.NullString(a.Option),
		a.PasswordChanged, a.CreatedAt, a.UpdatedAt)
	return store.Translate(err)
}

// InsertIfAbsent writes the account unless the reg number exists and reports
// whether a row was created.
func (r *Repository) InsertIfAbsent(ctx context.Context, a Account) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (reg_no) DO NOTHING
	`, a.ID, a.RegNo, a.Surname, a.FirstName, a.PasswordHash, string(a.Role),
		store.NullString(a.DeptID), store.NullString(a.Level), store.NullString(a.Option),
		a.PasswordChanged, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateProfile refreshes name and placement; password and role are untouched.
func (r *Repository) UpdateProfile(ctx context.Context, a Account) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET surname = $1, first_name = $2, dept_id = $3, level = $4, study_option = $5, updated_at = $6
		WHERE reg_no = $7
	`, a.Surname, a.FirstName, store.NullString(a.DeptID), store.NullString(a.Level),
		store.NullString(a.Option), a.UpdatedAt, a.RegNo)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// GetByID returns nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.one(ctx, `SELECT `+columns+` FROM accounts WHERE id = $1`, id)
}

// GetByRegNo returns nil when absent.
func (r *Repository) GetByRegNo(ctx context.Context, regNo string) (*Account, error) {
	return r.one(ctx, `SELECT `+columns+` FROM accounts WHERE reg_no = $1`, regNo)
}

func (r *Repository) one(ctx context.Context, query string, arg any) (*Account, error) {
	a, err := scan(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// SetPassword stores a new hash and marks the password as changed.
func (r *Repository) SetPassword(ctx context.Context, id, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET password_hash = $1, password_changed = TRUE, updated_at = $2
		WHERE id = $3
	`, hash, at, id)
	return err
}

// CountByRole tallies accounts per role.
func (r *Repository) CountByRole(ctx context.Context) (map[auth.Role]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM accounts GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[auth.Role]int{}
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[auth.Role(role)] = n
	}
	return out, rows.Err()
}
