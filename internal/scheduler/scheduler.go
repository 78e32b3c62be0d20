// Package scheduler drives the time-based round machinery. It owns no
// business rules: each tick delegates to the round service, whose steps are
// idempotent, so a missed, late, or doubled tick converges on the next one.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Ticker is the unit of work the scheduler drives.
type Ticker interface {
	Tick(ctx context.Context)
}

// Scheduler runs a Ticker on a fixed interval until its context ends.
type Scheduler struct {
	target   Ticker
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Scheduler.
func New(target Ticker, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		target:   target,
		interval: interval,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run ticks immediately, then on every interval. It returns the context error
// on shutdown. Crash recovery falls out of the tick semantics: due rounds
// left behind by a dead process are picked up by the first tick after
// restart.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	defer s.logger.Info("scheduler stopped")

	s.target.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.target.Tick(ctx)
		}
	}
}
