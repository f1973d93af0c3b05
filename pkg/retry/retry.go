// Package retry provides the bounded retry loop shared by transaction
// submission and receipt polling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned by an operation that completed without error but has
// nothing to return yet (e.g. a receipt that is still pending). It is retried
// like any other failure.
var ErrNotReady = errors.New("retry: result not ready")

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that WithBoundedRetries will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Func is a single attempt. attempt is 1-based.
type Func[T any] func(ctx context.Context, attempt int) (T, error)

// WithBoundedRetries calls op up to maxAttempts times and returns the first
// successful result. delay is slept between attempts (never after the last
// one); a zero delay retries immediately.
//
// It stops early if op returns a *PermanentError or ctx is done.
func WithBoundedRetries[T any](ctx context.Context, maxAttempts int, delay time.Duration, op Func[T]) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return zero, pe.Err
		}
		last = err

		if attempt == maxAttempts {
			break
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, Last: last}
}
