package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"uniattend/internal/account"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/config"
	"uniattend/internal/department"
	"uniattend/internal/roster"
	"uniattend/internal/store/storetest"
)

var admin = config.Bootstrap{
	RegNo:       "adm/0001",
	Surname:     "Adeyemi",
	FirstName:   "Kemi",
	Password:    "change-me-now",
	FacultyName: "Faculty of Computing",
	DeptName:    "Computer Science",
	Level:       "100 Level",
	Option:      "Cyber Security",
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	clk := clock.NewFake(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))

	wrote, err := Seed(ctx, db, admin, clk, bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, wrote)

	acc, err := account.NewRepository(db.Client).GetByRegNo(ctx, "ADM/0001")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, auth.RoleSuperAdmin, acc.Role)
	assert.False(t, acc.PasswordChanged)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte("change-me-now")))

	entry, err := roster.NewRepository(db.Client).GetByRegNo(ctx, "ADM/0001")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, acc.DeptID, entry.DeptID)

	dept, err := department.NewRepository(db.Client).GetDepartment(ctx, acc.DeptID)
	require.NoError(t, err)
	require.NotNil(t, dept)
	assert.Equal(t, "Computer Science", dept.Name)
	assert.Equal(t, []string{"100 Level"}, dept.Levels)
	assert.Equal(t, []string{"Cyber Security"}, dept.Options)

	wrote, err = Seed(ctx, db, admin, clk, bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, wrote)

	depts, err := department.NewRepository(db.Client).ListDepartments(ctx, "")
	require.NoError(t, err)
	assert.Len(t, depts, 1)
}

func TestSeedRepairsMissingRosterEntry(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	clk := clock.NewFake(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))

	_, err := Seed(ctx, db, admin, clk, bcrypt.MinCost)
	require.NoError(t, err)
	_, err = db.Client.ExecContext(ctx, `DELETE FROM students WHERE reg_no = $1`, "ADM/0001")
	require.NoError(t, err)

	wrote, err := Seed(ctx, db, admin, clk, bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, wrote)

	entry, err := roster.NewRepository(db.Client).GetByRegNo(ctx, "ADM/0001")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestSeedSkipsOrRejects(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	clk := clock.Real()

	wrote, err := Seed(ctx, db, config.Bootstrap{}, clk, bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, wrote)

	_, err = Seed(ctx, db, config.Bootstrap{RegNo: "X/1"}, clk, bcrypt.MinCost)
	assert.Error(t, err)
}
