package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"uniattend/internal/account"
	"uniattend/internal/apperr"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/metrics"
	"uniattend/internal/realtime"
	"uniattend/internal/roster"
	"uniattend/internal/session"
	"uniattend/internal/store"
)

const (
	msgAlreadyMarked       = "Attendance already marked for this session."
	msgAlreadyMarkedTarget = "Attendance already marked for this student and session."
)

// Mark is the outcome of a successful mark and the attendance-marked payload.
type Mark struct {
	SessionID string    `json:"sessionId"`
	StudentID string    `json:"studentId"`
	RegNo     string    `json:"regNo"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	MarkedBy  string    `json:"markedBy,omitempty"`
}

// Attendee is an entry of a session's attendance list resolved to a student.
type Attendee struct {
	StudentID string    `json:"studentId"`
	RegNo     string    `json:"regNo"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// Service records attendance.
type Service struct {
	db       *store.DB
	records  *Repository
	students *roster.Repository
	sessions *session.Repository
	notify   session.Notifier
	clock    clock.Clock
}

// NewService wires the attendance workflows.
func NewService(db *store.DB, notify session.Notifier, clk clock.Clock) *Service {
	return &Service{
		db:       db,
		records:  NewRepository(db.Client),
		students: roster.NewRepository(db.Client),
		sessions: session.NewRepository(db.Client, db.LockClause()),
		notify:   notify,
		clock:    clk,
	}
}

// Repo exposes the record store.
func (s *Service) Repo() *Repository { return s.records }

// MarkSelf records the caller's own attendance in a live session.
func (s *Service) MarkSelf(ctx context.Context, actor auth.Principal, sessionID string) (Mark, error) {
	student, err := s.students.GetByRegNo(ctx, actor.RegNo)
	if err != nil {
		return Mark{}, hide(err, "load roster entry "+actor.RegNo)
	}
	if student == nil {
		return Mark{}, apperr.NotFound("Student roster entry not found. Contact Admin.")
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Mark{}, hide(err, "load session "+sessionID)
	}
	if sess == nil || !sess.Live(s.clock.Now()) {
		return Mark{}, apperr.Invalid("Session is inactive or expired.")
	}
	if err := s.precheck(ctx, student.ID, sess.ID, msgAlreadyMarked); err != nil {
		return Mark{}, err
	}

	ts, err := s.record(ctx, sess.ID, student.ID, "", true, msgAlreadyMarked)
	if err != nil {
		return Mark{}, err
	}
	mark := Mark{
		SessionID: sess.ID,
		StudentID: student.ID,
		RegNo:     actor.RegNo,
		Name:      actor.FullName(),
		Timestamp: ts,
	}
	metrics.AttendanceMarked.WithLabelValues("self").Inc()
	s.notify.Notify(ctx, sess.Room(), realtime.EventAttendanceMarked, mark)
	return mark, nil
}

// MarkOverride records attendance for another student. Neither is_active nor
// expiry is checked, so corrections work after a close or a sweep too.
func (s *Service) MarkOverride(ctx context.Context, actor auth.Principal, sessionID, regNo string) (Mark, error) {
	if !actor.Role.IsRep() && !actor.Role.IsAdmin() {
		return Mark{}, apperr.Forbidden("Forbidden: You cannot mark attendance for this session.")
	}
	if regNo == "" || sessionID == "" {
		return Mark{}, apperr.Invalid("Session and registration number are required.")
	}
	student, err := s.students.GetByRegNo(ctx, account.NormalizeRegNo(regNo))
	if err != nil {
		return Mark{}, hide(err, "load roster entry "+regNo)
	}
	if student == nil {
		return Mark{}, apperr.NotFound(fmt.Sprintf("Student with Reg No %s not found in roster.", regNo))
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Mark{}, hide(err, "load session "+sessionID)
	}
	if sess == nil {
		return Mark{}, apperr.NotFound("Session not found.")
	}
	if !inScope(actor, *sess) {
		return Mark{}, apperr.Forbidden("Forbidden: You cannot mark attendance for this session.")
	}
	if err := s.precheck(ctx, student.ID, sess.ID, msgAlreadyMarkedTarget); err != nil {
		return Mark{}, err
	}

	ts, err := s.record(ctx, sess.ID, student.ID, actor.ID, false, msgAlreadyMarkedTarget)
	if err != nil {
		return Mark{}, err
	}
	mark := Mark{
		SessionID: sess.ID,
		StudentID: student.ID,
		RegNo:     student.RegNo,
		Name:      student.FirstName + " " + student.Surname,
		Timestamp: ts,
		MarkedBy:  string(actor.Role),
	}
	metrics.AttendanceMarked.WithLabelValues("override").Inc()
	log.Printf("[INFO] attendance override for %s in session %s by %s", student.RegNo, sess.ID, actor.RegNo)
	s.notify.Notify(ctx, sess.Room(), realtime.EventAttendanceMarked, mark)
	return mark, nil
}

// precheck is the early exit for an obvious duplicate. The unique constraint
// hit inside record is what actually prevents double marking.
func (s *Service) precheck(ctx context.Context, studentID, sessionID, msg string) error {
	exists, err := s.records.Exists(ctx, studentID, sessionID)
	if err != nil {
		return hide(err, "check attendance")
	}
	if exists {
		metrics.DuplicateMarks.Inc()
		return apperr.Conflict(msg)
	}
	return nil
}

// record inserts the attendance record and appends to the session's list in
// one transaction.
func (s *Service) record(ctx context.Context, sessionID, studentID, markedBy string, requireLive bool, dupMsg string) (time.Time, error) {
	now := s.clock.Now()
	err := s.db.RunInTx(ctx, func(ctx context.Context, tx store.DBTX) error {
		err := NewRepository(tx).Insert(ctx, Record{
			ID:         uuid.NewString(),
			StudentID:  studentID,
			SessionID:  sessionID,
			MarkedBy:   markedBy,
			RecordedAt: now,
		})
		if errors.Is(err, store.ErrDuplicate) {
			metrics.DuplicateMarks.Inc()
			return apperr.Conflict(dupMsg)
		}
		if err != nil {
			return err
		}
		sessions := session.NewRepository(tx, s.db.LockClause())
		sess, err := sessions.Lock(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return apperr.NotFound("Session not found.")
		}
		if requireLive && !sess.Live(now) {
			return apperr.Invalid("Session is inactive or expired.")
		}
		attendees := append(sess.Attendees, session.Attendee{StudentID: studentID, Timestamp: now})
		return sessions.SetAttendees(ctx, sessionID, attendees, now)
	})
	if err != nil {
		return time.Time{}, hide(err, "record attendance for "+studentID)
	}
	return now, nil
}

// Attendees resolves a session's attendance list to roster identities.
func (s *Service) Attendees(ctx context.Context, actor auth.Principal, sessionID string) ([]Attendee, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, hide(err, "load session "+sessionID)
	}
	if sess == nil {
		return nil, apperr.NotFound("Session not found.")
	}
	if !inScope(actor, *sess) {
		return nil, apperr.Forbidden("Forbidden: You cannot view this session.")
	}
	ids := make([]string, 0, len(sess.Attendees))
	for _, a := range sess.Attendees {
		ids = append(ids, a.StudentID)
	}
	students, err := s.students.ByIDs(ctx, ids)
	if err != nil {
		return nil, hide(err, "resolve attendees")
	}
	out := make([]Attendee, 0, len(sess.Attendees))
	for _, a := range sess.Attendees {
		entry := Attendee{StudentID: a.StudentID, Timestamp: a.Timestamp}
		if st, ok := students[a.StudentID]; ok {
			entry.RegNo = st.RegNo
			entry.Name = st.FirstName + " " + st.Surname
		}
		out = append(out, entry)
	}
	return out, nil
}

// History lists a student's attendance. Students see only their own; reps
// see students of their own class.
func (s *Service) History(ctx context.Context, actor auth.Principal, regNo string) ([]HistoryEntry, error) {
	regNo = account.NormalizeRegNo(regNo)
	if regNo == "" {
		regNo = actor.RegNo
	}
	if !actor.Role.IsRep() && !actor.Role.IsAdmin() && regNo != actor.RegNo {
		return nil, apperr.Forbidden("Forbidden: You can only view your own attendance.")
	}
	student, err := s.students.GetByRegNo(ctx, regNo)
	if err != nil {
		return nil, hide(err, "load roster entry "+regNo)
	}
	if student == nil {
		return nil, apperr.NotFound(fmt.Sprintf("Student with Reg No %s not found in roster.", regNo))
	}
	if actor.Role.IsRep() && regNo != actor.RegNo && (student.DeptID != actor.DeptID || student.Level != actor.Level) {
		return nil, apperr.Forbidden("Forbidden: Student is not in your class.")
	}
	res, err := s.records.ByStudent(ctx, student.ID)
	if err != nil {
		return nil, hide(err, "load history "+regNo)
	}
	return res, nil
}

// Count returns the number of attendance records.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.records.Count(ctx)
}

func inScope(actor auth.Principal, sess session.Session) bool {
	if actor.Role.IsAdmin() {
		return true
	}
	return actor.Role.IsRep() && actor.DeptID == sess.DeptID && actor.Level == sess.Level
}

func hide(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	log.Printf("[ERROR] %s: %v", op, err)
	return apperr.Internal("Internal server error.")
}
