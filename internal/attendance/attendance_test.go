package attendance

import (
	"bytes"
	"context"
	"encoding/csv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"uniattend/internal/apperr"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/department"
	"uniattend/internal/realtime"
	"uniattend/internal/roster"
	"uniattend/internal/session"
	"uniattend/internal/store/storetest"
)

type recorder struct {
	mu    sync.Mutex
	marks []Mark
	rooms []string
}

func (r *recorder) Notify(_ context.Context, room, event string, data any) {
	if event != realtime.EventAttendanceMarked {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, data.(Mark))
	r.rooms = append(r.rooms, room)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.marks)
}

type fixture struct {
	svc      *Service
	sessions *session.Service
	clock    *clock.Fake
	rec      *recorder
	dept     department.Department
	physics  department.Department
	rep      auth.Principal
	admin    auth.Principal
}

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db := storetest.New(t)
	clk := clock.NewFake(start)
	rec := &recorder{}

	depts := department.NewService(department.NewRepository(db.Client), clk)
	cs, err := depts.FindOrCreate(ctx, "Science", "Computer Science", "100 Level", "")
	require.NoError(t, err)
	ph, err := depts.FindOrCreate(ctx, "Science", "Physics", "100 Level", "")
	require.NoError(t, err)

	students := roster.NewRepository(db.Client)
	for _, st := range []roster.Student{
		{ID: "st-1", RegNo: "CS/21/001", Surname: "Okafor", FirstName: "Ada", DeptID: cs.ID, Level: "100 Level"},
		{ID: "st-2", RegNo: "CS/21/002", Surname: "Bello", FirstName: "Tunde", DeptID: cs.ID, Level: "100 Level"},
		{ID: "st-3", RegNo: "CS/21/003", Surname: "Musa", FirstName: "Ibrahim", DeptID: cs.ID, Level: "100 Level"},
		{ID: "st-4", RegNo: "PH/21/001", Surname: "Eze", FirstName: "Ngozi", DeptID: ph.ID, Level: "100 Level"},
	} {
		st.CreatedAt, st.UpdatedAt = start, start
		require.NoError(t, students.Upsert(ctx, st))
	}

	return fixture{
		svc:      NewService(db, rec, clk),
		sessions: session.NewService(db, rec, clk),
		clock:    clk,
		rec:      rec,
		dept:     cs,
		physics:  ph,
		rep:      auth.Principal{ID: "rep-1", RegNo: "CS/21/010", Role: auth.RoleClassRep, DeptID: cs.ID, Level: "100 Level"},
		admin:    auth.Principal{ID: "admin-1", RegNo: "ADMIN/001", Role: auth.RoleSuperAdmin},
	}
}

func (f fixture) student(regNo string) auth.Principal {
	return auth.Principal{ID: "acc-" + regNo, RegNo: regNo, Role: auth.RoleStudent, FirstName: "First", Surname: "Last", DeptID: f.dept.ID, Level: "100 Level"}
}

func (f fixture) open(t *testing.T, minutes int) session.Session {
	t.Helper()
	sess, err := f.sessions.Create(context.Background(), f.rep, session.CreateInput{Title: "Week 1 Lecture", Course: "CSC101", DurationMinutes: minutes})
	require.NoError(t, err)
	return sess
}

func TestMarkSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, 10)

	f.clock.Advance(time.Minute)
	mark, err := f.svc.MarkSelf(ctx, f.student("CS/21/001"), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "st-1", mark.StudentID)
	assert.Equal(t, "CS/21/001", mark.RegNo)
	assert.Equal(t, "First Last", mark.Name)
	assert.Equal(t, start.Add(time.Minute), mark.Timestamp)
	assert.Empty(t, mark.MarkedBy)

	got, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Attendees, 1)
	assert.Equal(t, session.Attendee{StudentID: "st-1", Timestamp: mark.Timestamp}, got.Attendees[0])

	require.Equal(t, 1, f.rec.count())
	assert.Equal(t, sess.Room(), f.rec.rooms[0])

	_, err = f.svc.MarkSelf(ctx, f.student("CS/21/001"), sess.ID)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeConflict, ae.Code)
	assert.Equal(t, "Attendance already marked for this session.", ae.Message)
	assert.Equal(t, 1, f.rec.count())
}

func TestMarkSelfRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, 10)

	_, err := f.svc.MarkSelf(ctx, f.student("CS/99/999"), sess.ID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = f.svc.MarkSelf(ctx, f.student("CS/21/001"), "missing")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	f.clock.Advance(10 * time.Minute)
	_, err = f.svc.MarkSelf(ctx, f.student("CS/21/001"), sess.ID)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err), "expired but not yet swept")

	closed := f.open(t, 30)
	_, err = f.sessions.CloseOwn(ctx, f.rep, closed.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkSelf(ctx, f.student("CS/21/001"), closed.ID)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	n, err := f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentMarksRecordOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, 60)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.MarkSelf(ctx, f.student("CS/21/002"), sess.ID)
			mu.Lock()
			defer mu.Unlock()
			switch apperr.CodeOf(err) {
			case apperr.CodeConflict:
				conflicts++
			default:
				if err == nil {
					ok++
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, conflicts)

	got, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Attendees, 1)
	n, err := f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, 10)

	f.clock.Advance(15 * time.Minute)
	mark, err := f.svc.MarkOverride(ctx, f.rep, sess.ID, "cs/21/003")
	require.NoError(t, err, "overrides ignore expiry")
	assert.Equal(t, "CS/21/003", mark.RegNo)
	assert.Equal(t, "Ibrahim Musa", mark.Name)
	assert.Equal(t, string(auth.RoleClassRep), mark.MarkedBy)

	_, err = f.svc.MarkOverride(ctx, f.admin, sess.ID, "CS/21/003")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeConflict, ae.Code)
	assert.Equal(t, "Attendance already marked for this student and session.", ae.Message)

	_, err = f.svc.MarkOverride(ctx, f.rep, sess.ID, "XX/00/000")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeNotFound, ae.Code)
	assert.Equal(t, "Student with Reg No XX/00/000 not found in roster.", ae.Message)

	_, err = f.svc.MarkOverride(ctx, f.rep, "missing", "CS/21/001")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	foreign := auth.Principal{ID: "rep-2", RegNo: "PH/21/010", Role: auth.RoleClassRep, DeptID: f.physics.ID, Level: "100 Level"}
	_, err = f.svc.MarkOverride(ctx, foreign, sess.ID, "CS/21/001")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = f.svc.MarkOverride(ctx, f.student("CS/21/001"), sess.ID, "CS/21/002")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	mark, err = f.svc.MarkOverride(ctx, f.admin, sess.ID, "CS/21/001")
	require.NoError(t, err)
	assert.Equal(t, string(auth.RoleSuperAdmin), mark.MarkedBy)
}

func TestMarkOverrideAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, 30)

	_, err := f.sessions.CloseOwn(ctx, f.rep, sess.ID)
	require.NoError(t, err)

	_, err = f.svc.MarkSelf(ctx, f.student("CS/21/001"), sess.ID)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	mark, err := f.svc.MarkOverride(ctx, f.rep, sess.ID, "CS/21/001")
	require.NoError(t, err, "closed sessions still accept corrections")
	assert.Equal(t, "CS/21/001", mark.RegNo)
}

func TestAttendeesAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.open(t, 30)
	_, err := f.svc.MarkSelf(ctx, f.student("CS/21/001"), first.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second := f.open(t, 30)
	_, err = f.svc.MarkSelf(ctx, f.student("CS/21/001"), second.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkOverride(ctx, f.rep, second.ID, "CS/21/002")
	require.NoError(t, err)

	list, err := f.svc.Attendees(ctx, f.rep, second.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "CS/21/001", list[0].RegNo)
	assert.Equal(t, "Ada Okafor", list[0].Name)
	assert.Equal(t, "CS/21/002", list[1].RegNo)

	_, err = f.svc.Attendees(ctx, f.student("CS/21/001"), second.ID)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	hist, err := f.svc.History(ctx, f.student("CS/21/001"), "")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, second.ID, hist[0].SessionID)
	assert.Equal(t, "CSC101", hist[0].Course)

	_, err = f.svc.History(ctx, f.student("CS/21/001"), "CS/21/002")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	hist, err = f.svc.History(ctx, f.rep, "cs/21/002")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "rep-1", hist[0].MarkedBy)

	foreign := auth.Principal{ID: "rep-2", RegNo: "PH/21/010", Role: auth.RoleClassRep, DeptID: f.physics.ID, Level: "100 Level"}
	_, err = f.svc.History(ctx, foreign, "CS/21/002")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, 30)
	_, err := f.svc.MarkSelf(ctx, f.student("CS/21/002"), sess.ID)
	require.NoError(t, err)

	file, err := f.svc.Export(ctx, f.rep, sess.ID, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "Attendance_Export_CSC101_Week_1_Lecture.csv", file.Name)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	require.True(t, bytes.HasPrefix(file.Body, []byte("\ufeff")))

	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(file.Body, []byte("\ufeff")))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header plus every roster member of the class")
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, []string{"Reg No", "Name", "Status", "Timestamp"}, records[0])
	assert.Equal(t, []string{"CS/21/001", "Okafor Ada", "Absent", ""}, records[1])
	assert.Equal(t, []string{"CS/21/002", "Bello Tunde", "Present", start.Format(time.RFC3339)}, records[2])
	assert.Equal(t, "Absent", records[3][2])

	file, err = f.svc.Export(ctx, f.admin, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Attendance_Export_CSC101_Week_1_Lecture.xlsx", file.Name)
	assert.Equal(t, contentTypeXLSX, file.ContentType)
	x, err := excelize.OpenReader(bytes.NewReader(file.Body))
	require.NoError(t, err)
	defer x.Close()
	rows, err := x.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Present", rows[2][2])
}

func TestExportName(t *testing.T) {
	tests := []struct {
		course, title, format, want string
	}{
		{"CSC101", "Week 1 Lecture", "csv", "Attendance_Export_CSC101_Week_1_Lecture.csv"},
		{"CSC/101", "Lab  2", "xlsx", "Attendance_Export_CSC-101_Lab_2.xlsx"},
		{`MTH\2 "B"`, `Quiz/"A"`, "csv", "Attendance_Export_MTH-2_B_Quiz-A.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := exportName(tt.course, tt.title, tt.format)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "/")
		})
	}
}

func TestExportRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, 30)

	_, err := f.svc.Export(ctx, f.rep, sess.ID, "pdf")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = f.svc.Export(ctx, f.rep, "missing", "csv")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	foreign := auth.Principal{ID: "rep-2", Role: auth.RoleClassRep, DeptID: f.physics.ID, Level: "100 Level"}
	_, err = f.svc.Export(ctx, foreign, sess.ID, "csv")
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}
