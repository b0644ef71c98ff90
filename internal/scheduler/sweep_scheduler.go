package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper fires due time-interval rules.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweepScheduler runs the time-rule sweep on a cron schedule such as
// "@every 1m" or "*/5 * * * *".
type SweepScheduler struct {
	sweeper  Sweeper
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewSweepScheduler creates a sweep scheduler.
func NewSweepScheduler(sweeper Sweeper, schedule string, logger *slog.Logger) *SweepScheduler {
	return &SweepScheduler{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the sweep and starts the cron runner. Overlapping runs are
// skipped. The runner stops when ctx is done.
func (s *SweepScheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(s.schedule, func() { s.runSweep(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("Starting sweep scheduler", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *SweepScheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	fired, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("Time rule sweep failed", "error", err)
		return
	}
	if fired > 0 {
		s.logger.Info("Fired time rules", "count", fired)
	}
}
