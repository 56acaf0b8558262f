package keeper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-zookeeper/zk"
)

var (
	ErrConnectionTimeout = errors.New("session never connected to quorum")
	ErrDeleteExhausted   = errors.New("delete retries exhausted")
	ErrNotConnected      = errors.New("session not established")
	ErrNotServing        = errors.New("member not serving requests")
	ErrSessionReleased   = errors.New("session already released")
	ErrUnknownMember     = errors.New("unknown member")
)

// ConnectionTimeoutError is returned when no attempt produced a session
// connected to the quorum within the connect timeout.
type ConnectionTimeoutError struct {
	Member   string
	Addr     string
	Attempts int
	Elapsed  time.Duration
	Cause    error
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("no session to %s (%s) after %d attempts in %s: %v",
		e.Member, e.Addr, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Cause)
}

func (e *ConnectionTimeoutError) Is(target error) bool {
	return target == ErrConnectionTimeout
}

func (e *ConnectionTimeoutError) Unwrap() error {
	return e.Cause
}

// DeleteExhaustedError means residual state is left in the cluster.
type DeleteExhaustedError struct {
	Path     string
	Member   string
	Attempts int
	Last     error
}

func (e *DeleteExhaustedError) Error() string {
	return fmt.Sprintf("cannot delete %s from member %s after %d attempts: %v",
		e.Path, e.Member, e.Attempts, e.Last)
}

func (e *DeleteExhaustedError) Is(target error) bool {
	return target == ErrDeleteExhausted
}

func (e *DeleteExhaustedError) Unwrap() error {
	return e.Last
}

// Class groups errors by how retry loops should treat them.
type Class int

const (
	ClassNone Class = iota
	// ClassRetryable covers the quorum-formation window: no server, lost
	// connection, expired session, server-side connection loss and operation
	// timeout.
	ClassRetryable
	// ClassAbsent is a missing path.
	ClassAbsent
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassRetryable:
		return "retryable"
	case ClassAbsent:
		return "absent"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Server codes go-zookeeper has no sentinel for. It reports them as
// "unknown error: <code>".
const (
	codeConnectionLoss   zk.ErrCode = -4
	codeOperationTimeout zk.ErrCode = -7
)

// hasServerCode reports whether err wraps the go-zookeeper error for code.
func hasServerCode(err error, code zk.ErrCode) bool {
	msg := fmt.Sprintf("unknown error: %v", code)
	for ; err != nil; err = errors.Unwrap(err) {
		if err.Error() == msg {
			return true
		}
	}
	return false
}

// Classify maps an error from a session operation to its retry class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	switch {
	case errors.Is(err, zk.ErrNoNode):
		return ClassAbsent
	case errors.Is(err, ErrConnectionTimeout),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, zk.ErrConnectionClosed),
		errors.Is(err, zk.ErrNoServer),
		errors.Is(err, zk.ErrSessionExpired),
		errors.Is(err, zk.ErrSessionMoved),
		errors.Is(err, zk.ErrClosing),
		errors.Is(err, context.DeadlineExceeded),
		hasServerCode(err, codeConnectionLoss),
		hasServerCode(err, codeOperationTimeout):
		return ClassRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}

	return ClassFatal
}
