package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/st3v3nmw/quorumcheck/internal/backoff"
	"github.com/st3v3nmw/quorumcheck/internal/metrics"
)

// AbsentPolicy decides what a retried delete does when the path is missing.
type AbsentPolicy int

const (
	// AbsentIsSuccess treats a missing path as the delete's intent already
	// satisfied, so deleting twice is no harder than deleting once.
	AbsentIsSuccess AbsentPolicy = iota
	// AbsentIsRetryable keeps retrying on a missing path until attempts run out.
	AbsentIsRetryable
)

func (p AbsentPolicy) String() string {
	if p == AbsentIsRetryable {
		return "retry"
	}
	return "success"
}

// ParseAbsentPolicy parses "success" or "retry".
func ParseAbsentPolicy(s string) (AbsentPolicy, error) {
	switch s {
	case "", "success":
		return AbsentIsSuccess, nil
	case "retry":
		return AbsentIsRetryable, nil
	default:
		return AbsentIsSuccess, fmt.Errorf("invalid absent policy %q (want success or retry)", s)
	}
}

const DefaultDeleteAttempts = 30

// Retrier deletes paths through fresh sessions, retrying transient failures.
type Retrier struct {
	Connect  ConnectFunc
	Attempts int
	Backoff  backoff.Strategy
	Absent   AbsentPolicy

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// NewRetrier creates a retrier with 30 attempts and a 500ms constant backoff.
func NewRetrier(connect ConnectFunc) *Retrier {
	return &Retrier{
		Connect:  connect,
		Attempts: DefaultDeleteAttempts,
		Backoff:  backoff.Constant(500 * time.Millisecond),
		Logger:   slog.Default(),
	}
}

// DeleteWithRetry deletes path through member. Every attempt opens its own
// session and releases it whatever the outcome. Connection-level failures
// are retried; any other failure aborts at once. Running out of attempts
// returns a *DeleteExhaustedError.
func (r *Retrier) DeleteWithRetry(ctx context.Context, member, path string) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = DefaultDeleteAttempts
	}
	strategy := r.Backoff
	if strategy == nil {
		strategy = backoff.Constant(500 * time.Millisecond)
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("member", member), slog.String("path", path))

	var (
		last  error
		made  int
		fatal bool
	)
	err := backoff.Retry(ctx, strategy, attempts, func(attempt int) error {
		made = attempt
		err := r.deleteOnce(ctx, member, path)
		class := Classify(err)
		r.Metrics.RecordDeleteAttempt(member, class.String())

		switch {
		case class == ClassNone:
			log.Debug("path deleted", slog.Int("attempt", attempt))
			return nil
		case class == ClassAbsent && r.Absent == AbsentIsSuccess:
			log.Debug("path already absent", slog.Int("attempt", attempt))
			return nil
		case class == ClassFatal:
			fatal = true
			return backoff.Permanent(fmt.Errorf("delete %s from member %s: %w", path, member, err))
		}

		last = err
		log.Debug("delete attempt failed", slog.Int("attempt", attempt), slog.String("class", class.String()), slog.String("error", err.Error()))
		return err
	})

	switch {
	case err == nil:
		return nil
	case fatal:
		return err
	case ctx.Err() != nil:
		last = ctx.Err()
	}

	return &DeleteExhaustedError{Path: path, Member: member, Attempts: made, Last: last}
}

func (r *Retrier) deleteOnce(ctx context.Context, member, path string) (err error) {
	c, err := r.Connect(ctx, member)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := Release(c); rerr != nil && err == nil {
			err = rerr
		}
	}()

	return c.Delete(path)
}
