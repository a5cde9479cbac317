/*
scheduler.go - Automated overdue sweep

PURPOSE:
  Periodically moves pending installments whose due date has passed to
  overdue, so the schedule view and lease summaries reflect arrears without
  anyone triggering the sweep by hand.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps immediately on start, then on every tick
  - Runs as the system actor with today's date (UTC)
  - The sweep is idempotent, so overlapping with a manual sweep is harmless

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(ledger, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - billing/ledger.go: SweepOverdue
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/rent-ledger/billing"
	"go.uber.org/zap"
)

// SweepScheduler runs the overdue sweep on an interval.
type SweepScheduler struct {
	Ledger        *billing.Ledger
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           billing.Clock

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(ledger *billing.Ledger, logger *zap.Logger) *SweepScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepScheduler{
		Ledger:        ledger,
		Logger:        logger.Named("scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a no-op.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker = nil
	s.mu.Unlock()

	// wait outside mu: an in-flight sweep takes it to record lastRun
	if ticker != nil {
		ticker.Stop()
		close(stop)
		s.wg.Wait()
		s.Logger.Info("stopped")
	}
}

func (s *SweepScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-stop:
			return
		}
	}
}

// RunNow triggers an immediate sweep and returns how many installments moved.
func (s *SweepScheduler) RunNow(ctx context.Context) (int, error) {
	return s.sweepAt(ctx, s.Now())
}

// NextRunTime returns when the next scheduled sweep will occur.
func (s *SweepScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.IsZero() {
		return s.Now().Add(s.CheckInterval)
	}
	return s.lastRun.Add(s.CheckInterval)
}

func (s *SweepScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.sweepAt(ctx, s.Now()); err != nil {
		s.Logger.Error("sweep failed", zap.Error(err), zap.Bool("retryable", billing.IsRetryable(err)))
	}
}

func (s *SweepScheduler) sweepAt(ctx context.Context, now time.Time) (int, error) {
	moved, err := s.Ledger.SweepOverdue(ctx, billing.SystemActor, billing.Date(now))

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if moved > 0 {
		s.Logger.Info("installments marked overdue", zap.Int("count", moved))
	}
	return moved, nil
}
