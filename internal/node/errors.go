package node

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStartupTimeout = errors.New("member never became connectable")
	ErrProcessExited  = errors.New("process exited during startup")
	ErrNotStopped     = errors.New("member must be stopped")
	ErrUnknownConfig  = errors.New("unknown config file")
	ErrEmptyPattern   = errors.New("replacement pattern cannot be empty")
)

// StartupTimeoutError is returned by Start and Restart when the member's
// coordination endpoint never became connectable.
type StartupTimeoutError struct {
	Member  string
	Addr    string
	Elapsed time.Duration
	Cause   error
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("member %s (%s) not connectable after %s: %v",
		e.Member, e.Addr, e.Elapsed.Round(time.Millisecond), e.Cause)
}

func (e *StartupTimeoutError) Is(target error) bool {
	return target == ErrStartupTimeout
}

func (e *StartupTimeoutError) Unwrap() error {
	return e.Cause
}
