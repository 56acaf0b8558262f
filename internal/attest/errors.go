package attest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAssertion matches every *AssertionError.
var ErrAssertion = errors.New("assertion failed")

// AssertionError reports an observed value that did not meet expectations.
type AssertionError struct {
	Member   string
	Op       string
	Expected string
	Actual   string
	Help     string
}

func (e *AssertionError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n  Expected: %s\n  Actual: %s", e.Op, e.Member, e.Expected, e.Actual)
	if e.Help != "" {
		b.WriteString("\n\n  " + strings.ReplaceAll(e.Help, "\n", "\n  "))
	}

	return b.String()
}

func (e *AssertionError) Is(target error) bool {
	return target == ErrAssertion
}

// OpError is a failed harness operation against a member.
type OpError struct {
	Op      string
	Member  string
	Elapsed time.Duration
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s (after %s): %v", e.Op, e.Member, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// ResidualPathError reports paths left behind by an earlier scenario.
type ResidualPathError struct {
	Paths []string
}

func (e *ResidualPathError) Error() string {
	return fmt.Sprintf("paths left by earlier scenarios: %s", strings.Join(e.Paths, ", "))
}

// ScenarioError is the outcome of a failed scenario. Err is the first
// failure of the body; Cleanup holds every cleanup failure in order.
type ScenarioError struct {
	Scenario string
	Err      error
	Cleanup  []error
	Elapsed  time.Duration
}

func (e *ScenarioError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "scenario %s failed after %s", e.Scenario, e.Elapsed.Round(time.Millisecond))
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, err := range e.Cleanup {
		fmt.Fprintf(&b, "\n  cleanup: %v", err)
	}

	return b.String()
}

func (e *ScenarioError) Unwrap() []error {
	errs := make([]error, 0, len(e.Cleanup)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return append(errs, e.Cleanup...)
}

// CleanupFailed reports whether the cluster may be left dirty.
func (e *ScenarioError) CleanupFailed() bool {
	return len(e.Cleanup) > 0
}

// toError converts a recovered panic value into an error.
func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}

	return fmt.Errorf("%v", r)
}

// capture runs fn and returns the value it panicked with, if any.
func capture(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = toError(r)
		}
	}()

	fn()
	return nil
}
