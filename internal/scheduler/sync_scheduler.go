package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/powhq/pow/internal/app"
)

// DefaultCycleTimeout bounds one sync cycle.
const DefaultCycleTimeout = 30 * time.Second

// SyncRunner runs a multi-tenant sync batch.
type SyncRunner interface {
	SyncBatch(ctx context.Context, tenantID string) ([]app.TenantResult, error)
}

// SyncScheduler periodically syncs every tenant. A tick that arrives while the
// previous cycle is still running is skipped.
type SyncScheduler struct {
	runner   SyncRunner
	logger   *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	interval time.Duration
	timeout  time.Duration
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewSyncScheduler creates a sync scheduler. A non-positive interval disables
// the loop.
func NewSyncScheduler(runner SyncRunner, interval time.Duration, logger *slog.Logger) *SyncScheduler {
	return &SyncScheduler{
		runner:   runner,
		logger:   logger,
		stopChan: make(chan struct{}),
		interval: interval,
		timeout:  DefaultCycleTimeout,
	}
}

// Start runs the loop until Stop is called or ctx is done.
func (s *SyncScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Sync scheduler disabled")
		return
	}

	s.logger.Info("Starting sync scheduler", "interval", s.interval, "cycle_timeout", s.timeout)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.launch(ctx)

	for {
		select {
		case <-ticker.C:
			s.launch(ctx)
		case <-s.stopChan:
			s.logger.Info("Sync scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Sync scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *SyncScheduler) launch(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCycle(ctx)
	}()
}

// runCycle runs one batch unless another is in flight and reports whether it
// ran.
func (s *SyncScheduler) runCycle(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("Previous sync cycle still running, skipping")
		return false
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	results, err := s.runner.SyncBatch(ctx, "")
	if err != nil {
		s.logger.Error("Sync cycle failed", "error", err)
		return true
	}

	total, failed := 0, 0
	for _, r := range results {
		total += r.NewRecords
		if r.Error != "" {
			failed++
		}
	}
	if total > 0 || failed > 0 {
		s.logger.Info("Sync cycle complete",
			"tenants", len(results),
			"new_records", total,
			"failed_tenants", failed,
			"duration", time.Since(start),
		)
	}
	return true
}
