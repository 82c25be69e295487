package llm

import (
	"context"
	"time"

	"github.com/auslex/auslex/internal/log"
)

// retryPolicy controls exponential backoff for transient provider failures.
type retryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var defaultRetryPolicy = retryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
}

// withRetry runs fn up to policy.MaxAttempts times, sleeping
// BaseDelay * 2^attempt between tries. Only transient provider errors are
// retried; fatal errors and context cancellation return immediately.
func withRetry(ctx context.Context, logger log.Logger, policy retryPolicy, op string, fn func() error) error {
	var lastErr error
	for attempt := range policy.MaxAttempts {
		if attempt > 0 {
			delay := policy.BaseDelay << (attempt - 1)
			logger.Debug("retrying provider call",
				"op", op, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
