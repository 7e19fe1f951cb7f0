/*
scheduler.go - Stale request expiry scheduler

PURPOSE:
  Periodically cancels Submitted requests that have been pending longer than
  a configured age. The workflow core itself has no request timeout -
  approvals may pend indefinitely - so expiry is layered on top here as an
  optional policy, using the same Cancel transition any actor would.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Cancels via the WorkflowEngine, so reservations are released and
    events emitted exactly like a user-initiated cancellation
  - Requests another actor decided between listing and cancelling fail
    with ErrInvalidTransition and are skipped

USAGE:
  scheduler := NewExpiryScheduler(engine, 30*24*time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - leave/workflow.go: Cancel transition
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// ExpiryActor is recorded as the cancelling actor on expired requests.
const ExpiryActor = "system:expiry"

// ExpiryScheduler cancels Submitted requests older than MaxPendingAge.
type ExpiryScheduler struct {
	Engine        *leave.WorkflowEngine
	MaxPendingAge time.Duration
	CheckInterval time.Duration

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a scheduler. A zero maxPendingAge disables it.
func NewExpiryScheduler(engine *leave.WorkflowEngine, maxPendingAge time.Duration, logger *zap.Logger) *ExpiryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryScheduler{
		Engine:        engine,
		MaxPendingAge: maxPendingAge,
		CheckInterval: 1 * time.Hour,
		logger:        logger.Named("scheduler"),
	}
}

// Start begins the scheduler. A stopped scheduler can be started again;
// each Start gets a fresh stop channel so the new goroutine outlives the
// previous shutdown.
func (s *ExpiryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return // already running
	}
	if s.MaxPendingAge <= 0 {
		s.logger.Info("expiry disabled, not starting")
		return
	}

	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)
	s.logger.Info("started",
		zap.Duration("check_interval", s.CheckInterval),
		zap.Duration("max_pending_age", s.MaxPendingAge),
	)
}

// Stop stops the scheduler and waits for the current sweep to finish.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
}

func (s *ExpiryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep cancels all Submitted requests older than MaxPendingAge. Exposed for
// manual triggering and tests.
func (s *ExpiryScheduler) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.MaxPendingAge)
	state := leave.StateSubmitted
	stale, err := s.Engine.List(ctx, leave.RequestFilter{
		State:           &state,
		SubmittedBefore: &cutoff,
	})
	if err != nil {
		s.logger.Error("failed to list stale requests", zap.Error(err))
		return
	}

	for _, req := range stale {
		if _, err := s.Engine.Cancel(ctx, req.ID, ExpiryActor); err != nil {
			if errors.Is(err, leave.ErrInvalidTransition) {
				continue // decided since we listed
			}
			s.logger.Error("failed to expire request",
				zap.String("request_id", string(req.ID)), zap.Error(err))
			continue
		}
		s.logger.Info("expired stale request",
			zap.String("request_id", string(req.ID)),
			zap.Time("created_at", req.CreatedAt),
		)
	}
}
