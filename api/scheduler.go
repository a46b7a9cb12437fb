/*
scheduler.go - Background sweep scheduler

PURPOSE:
  Periodically re-offers unassigned leads to buyers and reconciles every
  buyer's wallet against its ledger. A lead that found no buyer at intake
  can be sold later once a buyer tops up or resumes.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Each pass calls broker.Service.Sweep
  - Inconsistent ledgers are logged by the sweep itself, never repaired

CONFIGURATION:
  - Interval: How often to sweep (config scheduler.sweep_interval)
  - Zero interval disables the scheduler

USAGE:
  scheduler := NewSweepScheduler(svc, time.Minute, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - broker/reporting.go: Sweep
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/lead-exchange/broker"
)

// SweepScheduler runs broker sweeps on a ticker.
type SweepScheduler struct {
	Service  *broker.Service
	Interval time.Duration
	Logger   *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(svc *broker.Service, interval time.Duration, logger *slog.Logger) *SweepScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepScheduler{
		Service:  svc,
		Interval: interval,
		Logger:   logger,
	}
}

// Start begins the scheduler. It is a no-op when the interval is zero or
// the scheduler is already running.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Logger.Info("sweep scheduler disabled", "module", "api.scheduler")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(ctx)

	s.Logger.Info("sweep scheduler started", "module", "api.scheduler", "interval", s.Interval)
}

// Stop stops the scheduler and waits for an in-flight sweep to return.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("sweep scheduler stopped", "module", "api.scheduler")
}

func (s *SweepScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunOnce performs a single sweep and returns its report.
func (s *SweepScheduler) RunOnce(ctx context.Context) broker.SweepReport {
	start := time.Now()
	report, err := s.Service.Sweep(ctx)
	if err != nil {
		s.Logger.ErrorContext(ctx, "sweep failed",
			"module", "api.scheduler",
			"operation", "sweep",
			"outcome", "failure",
			"error", err,
		)
		return report
	}
	s.Logger.InfoContext(ctx, "sweep completed",
		"module", "api.scheduler",
		"operation", "sweep",
		"outcome", "success",
		"examined", report.Examined,
		"assigned", report.Assigned,
		"failed", report.Failed,
		"reconciled", report.Reconciled,
		"reconcile_failed", report.ReconcileFailed,
		"inconsistent", len(report.Inconsistent),
		"duration", time.Since(start),
	)
	return report
}
