// Package retryscheduler implements a concrete ports.RetryScheduler
// that arms a retry after an exponential-backoff delay, matching the
// backoff curve the orchestrator already assumes in SPEC_FULL.md §5.
package retryscheduler

import (
	"context"
	"math"
	"time"

	"github.com/pipelinecore/pipelinecore/core"
)

// Scheduler fires a callback after an exponential-backoff delay
// computed from retryCount. It is a thin, self-contained scheduler
// suitable for a single-process worker; a queue-backed scheduler would
// implement the same ports.RetryScheduler interface against a durable
// broker instead.
type Scheduler struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	onRetry      func(ctx context.Context, stepRunID string, retryCount int)
	logger       core.Logger
}

// New builds a Scheduler. onRetry is invoked (in its own goroutine)
// once the backoff delay elapses; it is the caller's responsibility to
// re-invoke RunStepUseCase for the step.
func New(initialDelay, maxDelay time.Duration, multiplier float64, onRetry func(ctx context.Context, stepRunID string, retryCount int), logger core.Logger) *Scheduler {
	return &Scheduler{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		onRetry:      onRetry,
		logger:       logger,
	}
}

// ScheduleRetry implements ports.RetryScheduler.
func (s *Scheduler) ScheduleRetry(ctx context.Context, stepRunID string, retryCount int) error {
	delay := s.backoff(retryCount)
	if s.logger != nil {
		s.logger.Info("retry scheduled", map[string]interface{}{
			"step_run_id": stepRunID,
			"retry_count": retryCount,
			"delay":       delay.String(),
		})
	}
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.onRetry(context.Background(), stepRunID, retryCount)
		}
	}()
	return nil
}

func (s *Scheduler) backoff(retryCount int) time.Duration {
	d := float64(s.initialDelay) * math.Pow(s.multiplier, float64(retryCount-1))
	if d > float64(s.maxDelay) {
		d = float64(s.maxDelay)
	}
	return time.Duration(d)
}
