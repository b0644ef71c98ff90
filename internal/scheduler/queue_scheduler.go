package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/powhq/pow/internal/queue"
)

// QueueRunner runs consumer cycles and supplies the current poll interval.
type QueueRunner interface {
	ProcessQueue(ctx context.Context) (queue.Result, error)
	QueueInterval(ctx context.Context) time.Duration
}

// QueueScheduler polls the outbound queue. The interval is re-read after
// every cycle so it can be tuned at runtime.
type QueueScheduler struct {
	runner   QueueRunner
	logger   *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewQueueScheduler creates a queue scheduler.
func NewQueueScheduler(runner QueueRunner, logger *slog.Logger) *QueueScheduler {
	return &QueueScheduler{
		runner:   runner,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs the loop until Stop is called or ctx is done.
func (s *QueueScheduler) Start(ctx context.Context) {
	interval := s.runner.QueueInterval(ctx)
	s.logger.Info("Starting queue scheduler", "interval", interval)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if _, err := s.runner.ProcessQueue(ctx); err != nil {
				s.logger.Error("Queue cycle failed", "error", err)
			}
			next := s.runner.QueueInterval(ctx)
			if next != interval {
				s.logger.Info("Queue interval changed", "from", interval, "to", next)
				interval = next
			}
			timer.Reset(interval)
		case <-s.stopChan:
			s.logger.Info("Queue scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Queue scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler.
func (s *QueueScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}
