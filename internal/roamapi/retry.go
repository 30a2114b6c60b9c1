package roamapi

import (
	"log/slog"
	"time"
)

// Default retry configuration for transient transport failures.
const (
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 1 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxBackoff        = 16 * time.Second
)

// RetryPolicy retries an operation with exponential backoff. It is not
// specific to HTTP: any blocking call can be wrapped, with Retryable deciding
// which failures are worth another attempt.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts beyond the first.
	MaxRetries int
	// InitialBackoff is the sleep before the first retry.
	InitialBackoff time.Duration
	// BackoffMultiplier scales the sleep after each retry.
	BackoffMultiplier float64
	// MaxBackoff caps the sleep duration.
	MaxBackoff time.Duration
	// Retryable reports whether a failure should trigger another attempt.
	// A nil predicate retries nothing.
	Retryable func(error) bool
	// Sleep is swapped out in tests. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// DefaultRetryPolicy returns the policy used for the transport call.
func DefaultRetryPolicy(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxBackoff:        DefaultMaxBackoff,
		Retryable:         retryable,
	}
}

// Do invokes fn, retrying retryable failures with exponential backoff.
// Non-retryable failures propagate immediately without sleeping; exhausting
// the retry budget returns the last error.
func (p RetryPolicy) Do(fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	backoff := p.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		lastErr = err
		if attempt < p.MaxRetries {
			slog.Warn("retrying after failure",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", p.MaxRetries+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))
			sleep(backoff)
			next := time.Duration(float64(backoff) * p.BackoffMultiplier)
			if next > p.MaxBackoff {
				next = p.MaxBackoff
			}
			backoff = next
		}
	}

	return lastErr
}
