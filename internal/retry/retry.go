// Package retry provides the exponential-backoff helper shared by tool
// retries (scheduler) and storage backend retries (persistence).
package retry

import (
	"context"
	"math"
	"time"
)

// Policy configures exponential backoff with a cap.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy is the standard tool retry policy: 100ms initial delay,
// capped at 30s.
func DefaultPolicy(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, InitialDelay: 100 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// Delay returns the backoff delay before attempt n (0-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Do runs fn up to p.MaxAttempts times (attempt 0 is the first try, not a
// "retry"), sleeping with exponential backoff between attempts, stopping
// early if ctx is cancelled or fn's error is non-retryable (fn itself
// decides retryability by returning a *stop wrapped error via Stop).
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	var lastErr error
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if s, ok := err.(*stopError); ok {
			return s.cause
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}

type stopError struct{ cause error }

func (s *stopError) Error() string { return s.cause.Error() }
func (s *stopError) Unwrap() error { return s.cause }

// Stop wraps err to signal Do that it must not be retried.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{cause: err}
}
