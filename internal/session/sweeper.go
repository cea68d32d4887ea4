package session

import (
	"context"
	"log"
	"sync"
	"time"

	"uniattend/internal/clock"
	"uniattend/internal/metrics"
	"uniattend/internal/realtime"
)

// Sweeper closes sessions whose expiry passed without an explicit close. It
// is started and stopped by the owning process.
type Sweeper struct {
	repo     *Repository
	notify   Notifier
	clock    clock.Clock
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a sweeper ticking every interval.
func NewSweeper(repo *Repository, notify Notifier, clk clock.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{repo: repo, notify: notify, clock: clk, interval: interval}
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	log.Printf("[INFO] expiry sweeper started (every %s)", s.interval)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[INFO] expiry sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[ERROR] sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce deactivates every active session whose expiry is at or before now
// and broadcasts session-ended for each one it flipped. A session closed or
// extended between the scan and the update is skipped. A failed update does
// not stop the pass; the first such error is returned at the end.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.clock.Now()
	expired, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	var firstErr error
	closed := 0
	for _, sess := range expired {
		ok, err := s.repo.Deactivate(ctx, sess.ID, now)
		if err != nil {
			log.Printf("[ERROR] expire session %s: %v", sess.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			continue
		}
		closed++
		metrics.SessionsClosed.WithLabelValues(metrics.ReasonExpired).Inc()
		log.Printf("[INFO] session %s expired", sess.ID)
		s.notify.Notify(ctx, sess.Room(), realtime.EventSessionEnded, EndedEvent{SessionID: sess.ID, Message: MsgExpired})
	}
	return closed, firstErr
}
