// Package retry provides a small context-aware retry combinator.
package retry

import (
	"context"
	"errors"
	"time"
)

// BackoffFunc returns the wait before the given attempt (2, 3, ...).
type BackoffFunc func(attempt int) time.Duration

// Linear waits base, 2*base, 3*base ... between attempts.
func Linear(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt-1) * base
	}
}

// Constant waits d between every attempt.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls op up to maxAttempts times, waiting backoff(attempt) before each retry.
// It returns nil on the first success, the last error once attempts are exhausted,
// or ctx.Err() if the context ends while waiting.
func Do(ctx context.Context, maxAttempts int, backoff BackoffFunc, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && backoff != nil {
			if wait := backoff(attempt); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return errors.Join(ctx.Err(), lastErr)
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
	}
	return lastErr
}
