package roster

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"uniattend/internal/account"
	"uniattend/internal/apperr"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/department"
	"uniattend/internal/store"
	"uniattend/internal/store/storetest"
)

const classList = "\ufeffRegNo,Surname,Firstname,Department,Level,Option\n" +
	"cs/21/001, Okafor ,Ada,Computer Science,100 Level,Cyber\n" +
	"CS/21/002,Bello,Tunde,computer science,100 Level,\n" +
	",,,,,\n" +
	"CS/21/003,Musa,Ibrahim,Computer Science,200 Level,\n" +
	"PH/21/001,Eze,Ngozi,Physics,100 Level,\n"

func TestParseCSV(t *testing.T) {
	rows, err := Parse("list.CSV", strings.NewReader(classList))
	require.NoError(t, err)
	require.Len(t, rows, 4, "header and blank rows skipped")

	assert.Equal(t, Row{Line: 2, RegNo: "CS/21/001", Surname: "Okafor", FirstName: "Ada", DeptName: "Computer Science", Level: "100 Level", Option: "Cyber"}, rows[0])
	assert.Equal(t, "", rows[1].Option)
	assert.Equal(t, "Physics", rows[3].DeptName)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	data := [][]any{
		{"RegNo", "Surname", "Firstname", "Department", "Level", "Option"},
		{"cs/21/001", "Okafor", "Ada", "Computer Science", "100 Level", "Cyber"},
		{"CS/21/002", "Bello", "Tunde", "Computer Science", "100 Level"},
	}
	for i, row := range data {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := Parse("list.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "CS/21/001", rows[0].RegNo)
	assert.Equal(t, "", rows[1].Option)
}

func TestParseRejectsUnknownExtension(t *testing.T) {
	_, err := Parse("list.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

type fixture struct {
	db   *store.DB
	svc  *Service
	cs   department.Department
	phys department.Department
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := storetest.New(t)
	clk := clock.NewFake(time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC))
	deptRepo := department.NewRepository(db.Client)
	depts := department.NewService(deptRepo, clk)
	cs, err := depts.FindOrCreate(context.Background(), "Computing", "Computer Science", "100 Level", "")
	require.NoError(t, err)
	phys, err := depts.FindOrCreate(context.Background(), "Science", "Physics", "100 Level", "")
	require.NoError(t, err)
	return fixture{db: db, svc: NewService(db, deptRepo, clk, bcrypt.MinCost), cs: cs, phys: phys}
}

func TestUploadFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := classList + "MT/21/001,Ade,Bola,Mathematics,100 Level,\n"
	sum, err := f.svc.UploadFull(ctx, "list.csv", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 5, sum.TotalRows)
	assert.Equal(t, 4, sum.RosterUpserted)
	assert.Equal(t, 4, sum.UserUpserted)
	assert.Equal(t, 4, sum.NewStudentsAdded)
	assert.Equal(t, 1, sum.ErrorsCount)
	assert.Equal(t, []string{"RegNo MT/21/001: Department 'Mathematics' not found."}, sum.Errors)

	st, err := f.svc.Repo().GetByRegNo(ctx, "CS/21/002")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, f.cs.ID, st.DeptID)

	// Initial password is the surname.
	accounts := account.NewService(account.NewRepository(f.db.Client), f.svc.Repo(), department.NewRepository(f.db.Client), clock.Real(), bcrypt.MinCost)
	acc, err := accounts.Login(ctx, "CS/21/001", "Okafor")
	require.NoError(t, err)
	require.NoError(t, accounts.ChangePassword(ctx, acc.ID, "Okafor", "changed-pw"))

	// Re-upload updates names but keeps passwords and ids.
	again := strings.Replace(classList, "Ada", "Adaeze", 1)
	sum, err = f.svc.UploadFull(ctx, "list.csv", strings.NewReader(again))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.NewStudentsAdded)
	assert.Equal(t, 4, sum.UserUpserted)

	after, err := f.svc.Repo().GetByRegNo(ctx, "CS/21/001")
	require.NoError(t, err)
	assert.Equal(t, "Adaeze", after.FirstName)
	_, err = accounts.Login(ctx, "CS/21/001", "changed-pw")
	require.NoError(t, err)

	list, err := f.svc.Repo().ListByScope(ctx, f.cs.ID, "100 Level")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := f.svc.Repo().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestUploadPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rep := auth.Principal{ID: "rep", RegNo: "CS/21/900", Role: auth.RoleClassRep, DeptID: f.cs.ID, Level: "100 Level"}

	sum, err := f.svc.UploadPartial(ctx, rep, "list.csv", strings.NewReader(classList))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalRows, "only own department and level")
	assert.Equal(t, 2, sum.NewStudentsAdded)

	other, err := f.svc.Repo().GetByRegNo(ctx, "CS/21/003")
	require.NoError(t, err)
	assert.Nil(t, other, "200 Level row ignored")

	sum, err = f.svc.UploadPartial(ctx, rep, "list.csv", strings.NewReader(classList))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.NewStudentsAdded)

	physRep := auth.Principal{ID: "rep2", Role: auth.RoleClassRep, DeptID: f.phys.ID, Level: "300 Level"}
	_, err = f.svc.UploadPartial(ctx, physRep, "list.csv", strings.NewReader(classList))
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	_, err = f.svc.UploadPartial(ctx, rep, "list.txt", strings.NewReader(classList))
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

func TestMatchSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.UploadFull(ctx, "list.csv", strings.NewReader(classList))
	require.NoError(t, err)
	repo := f.svc.Repo()

	p, err := repo.MatchSignup(ctx, "CS/21/001", "OKAFOR", f.cs.ID, "100 Level", "")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Ada", p.FirstName)

	p, err = repo.MatchSignup(ctx, "CS/21/001", "Okafor", f.cs.ID, "100 Level", "Cyber")
	require.NoError(t, err)
	assert.NotNil(t, p)

	p, err = repo.MatchSignup(ctx, "CS/21/001", "Okafor", f.cs.ID, "100 Level", "Data Science")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = repo.MatchSignup(ctx, "CS/21/001", "Okafor", f.cs.ID, "200 Level", "")
	require.NoError(t, err)
	assert.Nil(t, p)
}
