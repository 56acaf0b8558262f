package attest

import (
	"context"
	"strings"
	"time"
)

// timing defines when deferred operations should be executed
type timing int

const (
	TimingImmediate timing = iota
	TimingEventually
	TimingConsistently
)

// Promise represents a deferred observation
type Promise[P any, A any] interface {
	// Eventually configures the promise to retry until success or timeout
	Eventually() P
	// Within sets a custom timeout for Eventually operations
	Within(time.Duration) P
	// Consistently configures the promise to verify the observation holds for the entire duration
	Consistently() P
	// For sets a custom timeout for Consistently operations
	For(time.Duration) P
	// Returns creates an assertion to validate the observation
	Returns() A
}

var _ Promise[*LogPromise, *LogAssert] = (*LogPromise)(nil)

// PromiseBase provides common promise functionality
type PromiseBase struct {
	timing  timing
	timeout time.Duration
	ctx     context.Context
	config  *Config
}

func (b *PromiseBase) setEventually() {
	b.timing = TimingEventually
	b.timeout = b.config.DefaultRetryTimeout
}

func (b *PromiseBase) setWithin(timeout time.Duration) {
	if b.timing != TimingEventually {
		panic("Within() can only be called after Eventually()")
	}

	b.timeout = timeout
}

func (b *PromiseBase) setConsistently() {
	b.timing = TimingConsistently
	b.timeout = b.config.DefaultRetryTimeout
}

func (b *PromiseBase) setFor(timeout time.Duration) {
	if b.timing != TimingConsistently {
		panic("For() can only be called after Consistently()")
	}

	b.timeout = timeout
}

// run executes the observation according to the timing.
func (b *PromiseBase) run(execute func() bool) {
	switch b.timing {
	case TimingEventually:
		eventually(b.ctx, execute, b.timeout, b.config.RetryPollInterval)
	case TimingConsistently:
		consistently(b.ctx, execute, b.timeout, b.config.RetryPollInterval)
	default:
		execute()
	}
}

// LogPromise represents a deferred read of a member's log
type LogPromise struct {
	PromiseBase

	do     *Do
	member Member
}

func (p *LogPromise) Eventually() *LogPromise {
	p.setEventually()
	return p
}

func (p *LogPromise) Within(timeout time.Duration) *LogPromise {
	p.setWithin(timeout)
	return p
}

func (p *LogPromise) Consistently() *LogPromise {
	p.setConsistently()
	return p
}

func (p *LogPromise) For(timeout time.Duration) *LogPromise {
	p.setFor(timeout)
	return p
}

func (p *LogPromise) Returns() *LogAssert {
	return &LogAssert{promise: p}
}

func (p *LogPromise) read() (string, error) {
	return p.member.LogSince(p.do.mark(p.member.Name()))
}

// LogAssert validates a member's log text.
type LogAssert struct {
	promise *LogPromise
	help    string

	text    string
	readErr error

	textCheckers []Checker[string]
}

// Text adds expected log text checkers.
// All checkers must pass.
func (a *LogAssert) Text(checkers ...Checker[string]) *LogAssert {
	a.textCheckers = append(a.textCheckers, checkers...)
	return a
}

// Assert reads the log and validates it, failing the scenario on mismatch.
func (a *LogAssert) Assert(help string) {
	a.help = help
	a.promise.run(a.execute)
	a.check()
}

func (a *LogAssert) execute() bool {
	a.text, a.readErr = a.promise.read()
	if a.readErr != nil {
		return false
	}

	return checkAll(a.text, a.textCheckers, nil)
}

func (a *LogAssert) check() {
	p := a.promise

	if a.readErr != nil {
		p.do.fail("read log", p.member.Name(), a.readErr)
	}

	checkAll(a.text, a.textCheckers, func(m Checker[string], actual string) {
		panic(&AssertionError{
			Member:   p.member.Name(),
			Op:       "log of",
			Expected: m.Expected(),
			Actual:   tail(actual, 5),
			Help:     a.help,
		})
	})
}

// tail returns the last n lines of text, quoted for error messages.
func tail(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	out := strings.Join(lines, "\n    ")
	if out == "" {
		return "(empty log)"
	}

	return "\n    " + out
}
