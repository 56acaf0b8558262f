package attest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/st3v3nmw/quorumcheck/internal/backoff"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
	"github.com/st3v3nmw/quorumcheck/internal/node"
)

// Do is the harness handed to scenario bodies and cleanup steps. Failing
// operations panic with an *OpError or *AssertionError; the suite recovers
// them and records the failure.
type Do struct {
	cluster  *Cluster
	config   *Config
	log      *slog.Logger
	ledger   *ledger
	scenario string
	started  time.Time

	mu    sync.Mutex
	marks map[string]node.Mark

	ctx    context.Context
	cancel context.CancelFunc
}

func newDo(ctx context.Context, cluster *Cluster, config *Config, log *slog.Logger, scenario string) *Do {
	doCtx, cancel := context.WithCancel(ctx)

	return &Do{
		cluster:  cluster,
		config:   config,
		log:      log.With(slog.String("scenario", scenario)),
		ledger:   newLedger(),
		scenario: scenario,
		started:  time.Now(),
		marks:    make(map[string]node.Mark),
		ctx:      doCtx,
		cancel:   cancel,
	}
}

// Config returns the effective configuration.
func (do *Do) Config() *Config { return do.config }

// Members returns member names in configured order.
func (do *Do) Members() []string { return do.cluster.names() }

// getMember retrieves a member by name or panics if not found.
func (do *Do) getMember(name string) Member {
	if m, ok := do.cluster.member(name); ok {
		return m
	}

	panic(&OpError{Op: "lookup", Member: name, Elapsed: do.elapsed(), Err: keeper.ErrUnknownMember})
}

func (do *Do) elapsed() time.Duration {
	return time.Since(do.started)
}

func (do *Do) fail(op, member string, err error) {
	panic(&OpError{Op: op, Member: member, Elapsed: do.elapsed(), Err: err})
}

// each runs fn on the named members through the pool.
func (do *Do) each(op string, names []string, fn func(Member, context.Context) error) {
	for _, name := range names {
		do.getMember(name)
	}

	do.log.Debug(op, slog.Any("members", names))

	err := do.cluster.Pool.Run(do.ctx, names, func(ctx context.Context, name string) error {
		m, _ := do.cluster.member(name)
		return fn(m, ctx)
	})
	if err != nil {
		do.fail(op, strings.Join(names, ","), err)
	}
}

// Start brings the named members up concurrently and waits until each serves.
func (do *Do) Start(names ...string) {
	do.each("start", names, Member.Start)
}

// StartAll starts every member.
func (do *Do) StartAll() {
	do.Start(do.Members()...)
}

// Spawn launches the named members without waiting for readiness.
func (do *Do) Spawn(names ...string) {
	do.each("spawn", names, Member.Spawn)
}

// Stop shuts the named members down concurrently.
func (do *Do) Stop(names ...string) {
	do.each("stop", names, Member.Stop)
}

// StopAll stops every member.
func (do *Do) StopAll() {
	do.Stop(do.Members()...)
}

// Restart stops and starts one member and waits for it to serve again.
func (do *Do) Restart(name string) {
	m := do.getMember(name)
	if err := m.Restart(do.ctx); err != nil {
		do.fail("restart", name, err)
	}
}

// Settle pauses so peers observe the last membership change.
func (do *Do) Settle() {
	do.log.Debug("settle", slog.Duration("interval", do.config.SettleInterval))

	if !backoff.Sleep(do.ctx, do.config.SettleInterval) {
		do.fail("settle", "", do.ctx.Err())
	}
}

// WaitConnected waits until the member answers its readiness probe.
func (do *Do) WaitConnected(name string) {
	m := do.getMember(name)

	var lastErr error
	ok := eventually(do.ctx, func() bool {
		lastErr = m.Ready(do.ctx)
		return lastErr == nil
	}, do.config.DefaultRetryTimeout, do.config.RetryPollInterval)
	if !ok {
		if lastErr == nil {
			lastErr = do.ctx.Err()
		}
		do.fail("wait connected", name, lastErr)
	}
}

// ReplaceInConfig rewrites from to to in one of the member's config files
// and returns the number of replacements.
func (do *Do) ReplaceInConfig(name, file, from, to string) int {
	n, err := do.getMember(name).ReplaceInConfig(file, from, to)
	if err != nil {
		do.fail("replace in config", name, err)
	}

	return n
}

// RestoreConfig puts the member's config files back to their original content.
func (do *Do) RestoreConfig(name string) {
	if err := do.getMember(name).RestoreConfig(); err != nil {
		do.fail("restore config", name, err)
	}
}

// Connect opens a session to the member within the configured timeout.
func (do *Do) Connect(name string) keeper.Client {
	c, err := do.TryConnect(name, do.config.ConnectTimeout)
	if err != nil {
		do.fail("connect", name, err)
	}

	return c
}

// TryConnect opens a session to the member and returns the error instead
// of failing the scenario.
func (do *Do) TryConnect(name string, timeout time.Duration) (keeper.Client, error) {
	do.getMember(name)

	c, err := do.cluster.Connect(do.ctx, name, timeout)
	if err != nil {
		return nil, err
	}
	do.ledger.addSession(c)

	return c, nil
}

// Create creates path holding data through the session. A create that
// fails on a lost connection may still have been committed, so the path is
// recorded for cleanup either way.
func (do *Do) Create(c keeper.Client, path, data string) {
	if err := c.Create(path, []byte(data)); err != nil {
		if keeper.Classify(err) == keeper.ClassRetryable {
			do.ledger.addPath(path, c.Member())
		}
		do.fail("create "+path, c.Member(), err)
	}
	do.ledger.addPath(path, c.Member())
}

// Get reads the data stored at path through the session.
func (do *Do) Get(c keeper.Client, path string) string {
	data, err := c.Get(path)
	if err != nil {
		do.fail("get "+path, c.Member(), err)
	}

	return string(data)
}

// Delete deletes path through the session, once.
func (do *Do) Delete(c keeper.Client, path string) {
	if err := c.Delete(path); err != nil {
		do.fail("delete "+path, c.Member(), err)
	}
	do.ledger.dropPath(path)
}

// DeleteWithRetry deletes path through fresh sessions to the member,
// retrying transient failures.
func (do *Do) DeleteWithRetry(name, path string) {
	do.getMember(name)

	if err := do.cluster.Deleter.DeleteWithRetry(do.ctx, name, path); err != nil {
		do.fail("delete "+path, name, err)
	}
	do.ledger.dropPath(path)
}

// Release stops and closes a session. A nil session is ignored.
func (do *Do) Release(c keeper.Client) {
	if c == nil {
		return
	}

	do.ledger.dropSession(c)
	if err := keeper.Release(c); err != nil {
		do.fail("release", c.Member(), err)
	}
}

// Mark moves the start of the member's observed log to now.
func (do *Do) Mark(name string) {
	mark, err := do.getMember(name).LogMark()
	if err != nil {
		do.fail("mark log", name, err)
	}

	do.mu.Lock()
	do.marks[name] = mark
	do.mu.Unlock()
}

func (do *Do) markAll() {
	for _, name := range do.Members() {
		do.Mark(name)
	}
}

func (do *Do) mark(name string) node.Mark {
	do.mu.Lock()
	defer do.mu.Unlock()

	return do.marks[name]
}

// Log creates a deferred read of the member's log since its mark.
func (do *Do) Log(name string) *LogPromise {
	return &LogPromise{
		PromiseBase: PromiseBase{
			timing: TimingImmediate,
			ctx:    do.ctx,
			config: do.config,
		},

		do:     do,
		member: do.getMember(name),
	}
}

// ExpectError fails the scenario unless err matches target.
func (do *Do) ExpectError(name string, err, target error, help string) {
	if errors.Is(err, target) {
		return
	}

	actual := "no error"
	if err != nil {
		actual = err.Error()
	}

	panic(&AssertionError{
		Member:   name,
		Op:       "expect error from",
		Expected: target.Error(),
		Actual:   actual,
		Help:     help,
	})
}

// Expect fails the scenario unless actual satisfies every checker.
func Expect[T any](member, what string, actual T, help string, checkers ...Checker[T]) {
	checkAll(actual, checkers, func(m Checker[T], actual T) {
		panic(&AssertionError{
			Member:   member,
			Op:       what,
			Expected: m.Expected(),
			Actual:   fmt.Sprint(actual),
			Help:     help,
		})
	})
}

// Concurrently runs multiple functions in parallel and waits for completion.
// Every panic is collected; the scenario fails with all of them joined.
func (do *Do) Concurrently(fns ...func()) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, fn := range fns {
		wg.Add(1)
		go func(f func()) {
			defer wg.Done()

			if err := capture(f); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(fn)
	}

	wg.Wait()

	if len(errs) == 1 {
		panic(errs[0])
	}
	if len(errs) > 1 {
		panic(errors.Join(errs...))
	}
}
