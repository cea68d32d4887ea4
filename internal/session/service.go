package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"uniattend/internal/apperr"
	"uniattend/internal/auth"
	"uniattend/internal/clock"
	"uniattend/internal/metrics"
	"uniattend/internal/realtime"
	"uniattend/internal/store"
)

var (
	// DurationOptions are the allowed session lengths in minutes.
	DurationOptions = []int{10, 30, 60, 180, 240}
	// ExtendOptions are the allowed extensions in minutes.
	ExtendOptions = []int{5, 10, 30, 60}
)

// Close messages sent with session-ended.
const (
	MsgClosedByRep   = "Session closed by Class Rep."
	MsgClosedByAdmin = "Session closed by Super Admin."
	MsgExpired       = "Session expired automatically."
)

// Notifier fans events out to a realtime room. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, room, event string, data any)
}

// EndedEvent is the session-ended payload.
type EndedEvent struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// Service runs the session lifecycle.
type Service struct {
	db     *store.DB
	repo   *Repository
	notify Notifier
	clock  clock.Clock
}

// NewService wires the session workflow.
func NewService(db *store.DB, notify Notifier, clk clock.Clock) *Service {
	return &Service{
		db:     db,
		repo:   NewRepository(db.Client, db.LockClause()),
		notify: notify,
		clock:  clk,
	}
}

// Repo exposes the store for collaborators (attendance, sweeper).
func (s *Service) Repo() *Repository { return s.repo }

// CreateInput is the rep's new-session form.
type CreateInput struct {
	Title           string `json:"title"`
	Course          string `json:"course"`
	DurationMinutes int    `json:"durationMinutes"`
}

// Create opens a session for the rep's own class.
func (s *Service) Create(ctx context.Context, actor auth.Principal, in CreateInput) (Session, error) {
	if !actor.Role.IsRep() {
		return Session{}, apperr.Forbidden("Only class reps can open sessions.")
	}
	if !contains(DurationOptions, in.DurationMinutes) {
		return Session{}, apperr.Invalid("Invalid duration selected.")
	}
	title := strings.TrimSpace(in.Title)
	course := strings.ToUpper(strings.TrimSpace(in.Course))
	if title == "" || course == "" {
		return Session{}, apperr.Invalid("Title and course are required.")
	}
	if actor.DeptID == "" || actor.Level == "" {
		return Session{}, apperr.Forbidden("Your account is not attached to a class.")
	}

	now := s.clock.Now()
	sess := Session{
		ID:              uuid.NewString(),
		Title:           title,
		Course:          course,
		DeptID:          actor.DeptID,
		Level:           actor.Level,
		CreatedBy:       actor.ID,
		StartsAt:        now,
		ExpiresAt:       now.Add(time.Duration(in.DurationMinutes) * time.Minute),
		DurationMinutes: in.DurationMinutes,
		IsActive:        true,
		Attendees:       []Attendee{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		log.Printf("[ERROR] create session: %v", err)
		return Session{}, apperr.Internal("Could not create session.")
	}
	metrics.SessionsOpened.Inc()
	log.Printf("[INFO] session %s opened for %s by %s", sess.ID, sess.Room(), actor.RegNo)
	s.notify.Notify(ctx, sess.Room(), realtime.EventNewSession, sess)
	return sess, nil
}

// ExtendOwn extends a session the rep created.
func (s *Service) ExtendOwn(ctx context.Context, actor auth.Principal, id string, minutes int) (Session, error) {
	if !actor.Role.IsRep() {
		return Session{}, apperr.Forbidden("Only class reps can manage their sessions.")
	}
	return s.extend(ctx, id, actor.ID, minutes, "Active session not found or you are not the creator.")
}

// ExtendAny extends any open session.
func (s *Service) ExtendAny(ctx context.Context, actor auth.Principal, id string, minutes int) (Session, error) {
	if !actor.Role.IsAdmin() {
		return Session{}, apperr.Forbidden("Only a super admin can manage any session.")
	}
	return s.extend(ctx, id, "", minutes, "Active session not found.")
}

func (s *Service) extend(ctx context.Context, id, owner string, minutes int, notFound string) (Session, error) {
	if !contains(ExtendOptions, minutes) {
		return Session{}, apperr.Invalid("Invalid extension duration.")
	}
	var out Session
	err := s.db.RunInTx(ctx, func(ctx context.Context, tx store.DBTX) error {
		repo := NewRepository(tx, s.db.LockClause())
		now := s.clock.Now()
		sess, err := repo.FindOpen(ctx, id, owner, now)
		if err != nil {
			return err
		}
		if sess == nil {
			return apperr.NotFound(notFound)
		}
		sess.ExpiresAt = sess.ExpiresAt.Add(time.Duration(minutes) * time.Minute)
		sess.UpdatedAt = now
		ok, err := repo.SetExpiry(ctx, sess.ID, sess.ExpiresAt, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound(notFound)
		}
		out = *sess
		return nil
	})
	if err != nil {
		return Session{}, hide(err, "extend session "+id)
	}
	s.notify.Notify(ctx, out.Room(), realtime.EventSessionUpdated, out)
	return out, nil
}

// CloseOwn ends a session the rep created.
func (s *Service) CloseOwn(ctx context.Context, actor auth.Principal, id string) (Session, error) {
	if !actor.Role.IsRep() {
		return Session{}, apperr.Forbidden("Only class reps can manage their sessions.")
	}
	return s.close(ctx, id, actor.ID, MsgClosedByRep, metrics.ReasonRep, "Active session not found or you are not the creator.")
}

// CloseAny ends any active session.
func (s *Service) CloseAny(ctx context.Context, actor auth.Principal, id string) (Session, error) {
	if !actor.Role.IsAdmin() {
		return Session{}, apperr.Forbidden("Only a super admin can manage any session.")
	}
	return s.close(ctx, id, "", MsgClosedByAdmin, metrics.ReasonAdmin, "Active session not found.")
}

// close sets active=false and expiry=now in one statement, so a sweep that
// runs afterwards no longer selects the session.
func (s *Service) close(ctx context.Context, id, owner, message, reason, notFound string) (Session, error) {
	now := s.clock.Now()
	ok, err := s.repo.Close(ctx, id, owner, now)
	if err != nil {
		return Session{}, hide(err, "close session "+id)
	}
	if !ok {
		return Session{}, apperr.NotFound(notFound)
	}
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return Session{}, hide(err, "reload session "+id)
	}
	if sess == nil {
		return Session{}, apperr.NotFound(notFound)
	}
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	log.Printf("[INFO] session %s closed: %s", id, message)
	s.notify.Notify(ctx, sess.Room(), realtime.EventSessionEnded, EndedEvent{SessionID: id, Message: message})
	return *sess, nil
}

// Active returns the live session for the caller's class, or nil.
func (s *Service) Active(ctx context.Context, actor auth.Principal) (*Session, error) {
	if actor.DeptID == "" || actor.Level == "" {
		return nil, nil
	}
	sess, err := s.repo.ActiveFor(ctx, actor.DeptID, actor.Level, s.clock.Now())
	if err != nil {
		return nil, hide(err, "active session")
	}
	if sess != nil {
		sess.Attendees = nil
	}
	return sess, nil
}

// List returns the caller's class sessions, or every session for an admin.
func (s *Service) List(ctx context.Context, actor auth.Principal) ([]Session, error) {
	deptID, level := actor.DeptID, actor.Level
	if actor.Role.IsAdmin() {
		deptID, level = "", ""
	} else if deptID == "" {
		return []Session{}, nil
	}
	res, err := s.repo.List(ctx, deptID, level)
	if err != nil {
		return nil, hide(err, "list sessions")
	}
	return res, nil
}

// Get returns a session or NotFound.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return Session{}, hide(err, "load session "+id)
	}
	if sess == nil {
		return Session{}, apperr.NotFound("Session not found.")
	}
	return *sess, nil
}

// Counts reports total and live sessions.
func (s *Service) Counts(ctx context.Context) (int, int, error) {
	return s.repo.Counts(ctx, s.clock.Now())
}

// hide passes *apperr.Error through and replaces anything else with a logged
// 500.
func hide(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	log.Printf("[ERROR] %s: %v", op, err)
	return apperr.Internal("Internal server error.")
}

func contains(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
