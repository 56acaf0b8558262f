package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/st3v3nmw/quorumcheck/internal/backoff"
	"github.com/st3v3nmw/quorumcheck/internal/metrics"
)

// ConnectFunc opens a client session to a member.
type ConnectFunc func(ctx context.Context, member string) (Client, error)

// Options tune the session factory.
type Options struct {
	// ConnectTimeout bounds the whole connect call.
	ConnectTimeout time.Duration
	// AttemptTimeout bounds the wait for a session within one attempt.
	AttemptTimeout time.Duration
	// SessionTimeout is the ZooKeeper session timeout requested from the server.
	SessionTimeout time.Duration
	Backoff        backoff.Strategy

	Dialer  Dialer
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.AttemptTimeout == 0 {
		o.AttemptTimeout = 5 * time.Second
	}
	if o.SessionTimeout == 0 {
		o.SessionTimeout = 10 * time.Second
	}
	if o.Backoff == nil {
		o.Backoff = backoff.Exponential(100*time.Millisecond, 2*time.Second)
	}
	if o.Dialer == nil {
		o.Dialer = ZKDialer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Factory produces sessions to members by name.
type Factory struct {
	addrs map[string]string
	opts  Options
}

// NewFactory creates a factory resolving member names through addrs.
func NewFactory(addrs map[string]string, opts Options) *Factory {
	opts.setDefaults()

	book := make(map[string]string, len(addrs))
	for name, addr := range addrs {
		book[name] = addr
	}

	return &Factory{addrs: book, opts: opts}
}

// Connect opens a session to member within the factory's connect timeout.
func (f *Factory) Connect(ctx context.Context, member string) (*Session, error) {
	return f.ConnectWithin(ctx, member, f.opts.ConnectTimeout)
}

// ConnectFunc adapts Connect to the Client interface.
func (f *Factory) ConnectFunc() ConnectFunc {
	return func(ctx context.Context, member string) (Client, error) {
		s, err := f.Connect(ctx, member)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ConnectWithin repeatedly tries to open a session to member until one
// reaches the has-session state or timeout elapses. A socket that connects
// while the member has no quorum does not count.
func (f *Factory) ConnectWithin(ctx context.Context, member string, timeout time.Duration) (*Session, error) {
	addr, ok := f.addrs[member]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMember, member)
	}

	log := f.opts.Logger.With(slog.String("member", member), slog.String("addr", addr))
	start := time.Now()

	var (
		session  *Session
		lastErr  error
		attempts int
	)
	if timeout > 0 {
		loopCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		_ = backoff.Retry(loopCtx, f.opts.Backoff, 0, func(attempt int) error {
			wait := f.opts.AttemptTimeout
			if deadline, ok := loopCtx.Deadline(); ok {
				wait = min(wait, time.Until(deadline))
			}
			if wait <= 0 {
				return backoff.Permanent(ErrNotConnected)
			}
			attempts = attempt

			s, err := f.attempt(ctx, member, addr, wait, log)
			f.opts.Metrics.RecordConnectAttempt(member, err)
			if err == nil {
				session = s
				return nil
			}

			lastErr = err
			log.Debug("session attempt failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))

			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		})
	}

	if session != nil {
		log.Debug("session connected", slog.Int("attempt", attempts), slog.Duration("elapsed", time.Since(start)))
		return session, nil
	}
	if ctx.Err() != nil {
		lastErr = ctx.Err()
	}

	if lastErr == nil {
		lastErr = ErrNotConnected
	}

	return nil, &ConnectionTimeoutError{
		Member:   member,
		Addr:     addr,
		Attempts: attempts,
		Elapsed:  time.Since(start),
		Cause:    lastErr,
	}
}

// attempt dials once and waits up to wait for the has-session state.
func (f *Factory) attempt(ctx context.Context, member, addr string, wait time.Duration, log *slog.Logger) (*Session, error) {
	conn, events, err := f.opts.Dialer(addr, f.opts.SessionTimeout, slogAdapter{log: log})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.Close()
				return nil, zk.ErrConnectionClosed
			}
			if ev.State == zk.StateHasSession {
				return newSession(member, addr, conn, events, log), nil
			}
			if ev.State == zk.StateAuthFailed {
				abandon(conn, events)
				return nil, zk.ErrAuthFailed
			}
		case <-timer.C:
			abandon(conn, events)
			return nil, fmt.Errorf("%w within %s", ErrNotConnected, wait)
		case <-ctx.Done():
			abandon(conn, events)
			return nil, ctx.Err()
		}
	}
}

// abandon closes a connection that never got a session and drains its
// remaining events in the background.
func abandon(conn Conn, events <-chan zk.Event) {
	conn.Close()
	go func() {
		for range events {
		}
	}()
}
