// Package bootstrap seeds the first super admin so a fresh deployment can be
// administered.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"uniattend/internal/account"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/config"
	"uniattend/internal/department"
	"uniattend/internal/roster"
	"uniattend/internal/store"
)

// Seed ensures the configured super admin exists with an account and a roster
// entry, creating its faculty and department when missing. It reports whether
// anything was written; a second run is a no-op.
func Seed(ctx context.Context, db *store.DB, cfg config.Bootstrap, clk clock.Clock, cost int) (bool, error) {
	regNo := account.NormalizeRegNo(cfg.RegNo)
	if regNo == "" {
		log.Printf("[INFO] bootstrap skipped: no super admin configured")
		return false, nil
	}
	if cfg.Password == "" || cfg.Surname == "" || cfg.FacultyName == "" || cfg.DeptName == "" || cfg.Level == "" {
		return false, errors.New("bootstrap needs password, surname, faculty, department and level")
	}

	accounts := account.NewRepository(db.Client)
	students := roster.NewRepository(db.Client)
	existing, err := accounts.GetByRegNo(ctx, regNo)
	if err != nil {
		return false, fmt.Errorf("lookup account: %w", err)
	}
	entry, err := students.GetByRegNo(ctx, regNo)
	if err != nil {
		return false, fmt.Errorf("lookup roster: %w", err)
	}
	if existing != nil && entry != nil {
		log.Printf("[INFO] super admin %s already set up", regNo)
		return false, nil
	}

	depts := department.NewService(department.NewRepository(db.Client), clk)
	dept, err := depts.FindOrCreate(ctx, strings.TrimSpace(cfg.FacultyName), strings.TrimSpace(cfg.DeptName), cfg.Level, cfg.Option)
	if err != nil {
		return false, fmt.Errorf("department: %w", err)
	}
	hash, err := account.HashPassword(cfg.Password, cost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	now := clk.Now()
	err = db.RunInTx(ctx, func(ctx context.Context, tx store.DBTX) error {
		if _, err := account.NewRepository(tx).InsertIfAbsent(ctx, account.Account{
			ID:           uuid.NewString(),
			RegNo:        regNo,
			Surname:      cfg.Surname,
			FirstName:    cfg.FirstName,
			PasswordHash: hash,
			Role:         auth.RoleSuperAdmin,
			DeptID:       dept.ID,
			Level:        cfg.Level,
			Option:       cfg.Option,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return fmt.Errorf("account: %w", err)
		}
		if err := roster.NewRepository(tx).Upsert(ctx, roster.Student{
			ID:        uuid.NewString(),
			RegNo:     regNo,
			Surname:   cfg.Surname,
			FirstName: cfg.FirstName,
			DeptID:    dept.ID,
			Level:     cfg.Level,
			Option:    cfg.Option,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("roster: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	log.Printf("[INFO] super admin %s set up in %s", regNo, dept.Name)
	return true, nil
}

// FromConfig seeds using the application config.
func FromConfig(ctx context.Context, db *store.DB, cfg config.App, clk clock.Clock) (bool, error) {
	return Seed(ctx, db, cfg.Bootstrap, clk, cfg.BcryptCost)
}
