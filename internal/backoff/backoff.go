// Package backoff builds the retry schedules used to connect sessions and
// delete paths on top of cenkalti/backoff.
package backoff

import (
	"context"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
)

// Strategy creates a fresh schedule for one retry loop.
type Strategy func() cenkalti.BackOff

// Constant waits the same interval between attempts.
func Constant(interval time.Duration) Strategy {
	return func() cenkalti.BackOff {
		return cenkalti.NewConstantBackOff(interval)
	}
}

// Exponential doubles the interval between attempts up to maxDelay. It never
// gives up on its own; callers bound it by attempts or context.
func Exponential(initial, maxDelay time.Duration) Strategy {
	return func() cenkalti.BackOff {
		b := cenkalti.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxDelay
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// Permanent stops Retry at once with err.
func Permanent(err error) error {
	return cenkalti.Permanent(err)
}

// Retry runs op until it succeeds, returns a Permanent error, makes maxAttempts
// attempts or ctx ends. Zero maxAttempts means no attempt limit. op receives
// the 1-indexed attempt number. The last op error is returned, or ctx.Err()
// when the context ended first.
func Retry(ctx context.Context, strategy Strategy, maxAttempts int, op func(attempt int) error) error {
	b := strategy()
	if maxAttempts > 0 {
		b = cenkalti.WithMaxRetries(b, uint64(maxAttempts-1))
	}

	attempt := 0
	return cenkalti.Retry(func() error {
		attempt++
		return op(attempt)
	}, cenkalti.WithContext(b, ctx))
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
