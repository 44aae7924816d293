package ports

import "context"

// RetryScheduler arms a future retry of a failed step. Scheduling
// strategy (the actual backoff timer) is the scheduler's concern; the
// use case assumes exponential backoff is applied.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, stepRunID string, retryCount int) error
}
