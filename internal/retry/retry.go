// Package retry implements deterministic backoff retries with pluggable
// retryability predicates.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Options configures a retry loop. Total attempts = MaxRetries + 1.
type Options struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	// IsRetryable decides whether a failed attempt should be retried.
	// Nil means every error is retryable.
	IsRetryable Predicate
	// OnRetry is invoked before each sleep with the upcoming attempt
	// number (1-based) and the error that triggered it.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Context is a label carried into the exhausted error for logging.
	Context string
}

// DefaultOptions mirror the platform-wide ingest defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        3,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

// ExhaustedError is returned when all attempts failed.
type ExhaustedError struct {
	Orig     error
	Attempts int
	Elapsed  time.Duration
	Context  string
}

func (e *ExhaustedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("retry exhausted (%s) after %d attempts in %s: %v", e.Context, e.Attempts, e.Elapsed, e.Orig)
	}
	return fmt.Sprintf("retry exhausted after %d attempts in %s: %v", e.Attempts, e.Elapsed, e.Orig)
}

func (e *ExhaustedError) Unwrap() error { return e.Orig }

// Do runs op until it succeeds, the predicate rejects the error, the
// context is cancelled, or attempts are exhausted. Delays follow
// InitialDelay · BackoffMultiplier^i with no jitter.
func Do(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	if opts.BackoffMultiplier <= 0 {
		opts.BackoffMultiplier = 2
	}
	retryable := opts.IsRetryable
	if retryable == nil {
		retryable = Always()
	}

	start := time.Now()
	delay := opts.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * opts.BackoffMultiplier)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	return &ExhaustedError{
		Orig:     lastErr,
		Attempts: opts.MaxRetries + 1,
		Elapsed:  time.Since(start),
		Context:  opts.Context,
	}
}

// DelayForAttempt returns the deterministic delay before attempt i
// (0-based), capped at maxDelay when maxDelay > 0. Shared with the
// client reconnection schedule so both sides agree on timing.
func DelayForAttempt(i int, initial time.Duration, multiplier float64, maxDelay time.Duration) time.Duration {
	d := float64(initial)
	for n := 0; n < i; n++ {
		d *= multiplier
		if maxDelay > 0 && time.Duration(d) >= maxDelay {
			return maxDelay
		}
	}
	out := time.Duration(d)
	if maxDelay > 0 && out > maxDelay {
		return maxDelay
	}
	return out
}

// IsExhausted reports whether err is (or wraps) an ExhaustedError.
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}
