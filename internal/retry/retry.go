// Package retry provides the engine's shared retry policy: exponential
// backoff with jitter, built on sethvargo/go-retry.
package retry

import (
	"context"
	"errors"
	"time"

	backoff "github.com/sethvargo/go-retry"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// newBackoff builds the shared policy: baseDelay doubled on each retry
// with +-25% jitter.
func newBackoff(baseDelay time.Duration) backoff.Backoff {
	if baseDelay <= 0 {
		baseDelay = time.Millisecond
	}
	return backoff.WithJitterPercent(25, backoff.NewExponential(baseDelay))
}

// Do calls fn up to maxAttempts times with exponential backoff and jitter.
// It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError (not retryable)
//   - ctx is cancelled
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	b := backoff.WithMaxRetries(uint64(maxAttempts-1), newBackoff(baseDelay))
	return backoff.Do(ctx, b, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		return backoff.RetryableError(err)
	})
}

// DoWithUnlock is like Do but calls unlock before sleeping and relock after.
// This is used when a mutex must be released during backoff to avoid blocking
// other goroutines on the same shard. The caller must hold the lock on entry;
// fn is always called with the lock held, and the lock is held on return.
func DoWithUnlock(ctx context.Context, maxAttempts int, baseDelay time.Duration,
	unlock func(), relock func(), fn func() error) error {

	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	b := newBackoff(baseDelay)
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == maxAttempts-1 {
			break
		}

		// Release the lock during the backoff sleep.
		unlock()
		sleep, stop := b.Next()
		if stop {
			relock()
			break
		}

		select {
		case <-ctx.Done():
			relock()
			return ctx.Err()
		case <-time.After(sleep):
		}

		relock()
	}

	return err
}
