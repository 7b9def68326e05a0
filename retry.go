package cset

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to 5 retries.
// If retries are exhausted, gaveUpTask is invoked (when not nil) and the final error is returned.
//
// The partitioned facade surfaces WouldBlock instead of spinning forever; callers
// that prefer waiting wrap the conflicted call in Retry. Retry takes no filter: only errors
// wrapped with RetryableError are retried, so the task wraps the errors ShouldRetry accepts.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Millisecond)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether the error is retryable (non-nil and not a known permanent failure).
// Contention outcomes (WouldBlock, Consistency) are retryable; the rest of the CSET codes
// indicate caller bugs or saturated state and retrying them is pointless.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellations/timeouts are permanent from the caller's POV.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case WouldBlock, Consistency:
			return true
		default:
			return false
		}
	}
	return true
}

// RetryableError marks err as retryable for Retry. Non-retryable errors abort the backoff loop.
func RetryableError(err error) error {
	return retry.RetryableError(err)
}
