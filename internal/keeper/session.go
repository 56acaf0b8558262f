// Package keeper talks to coordination-service members over the ZooKeeper
// client protocol: it opens quorum-backed sessions with bounded retry,
// deletes paths with classified retries and probes members for readiness.
package keeper

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn is the part of *zk.Conn used by sessions.
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Close()
}

// Dialer opens a connection to one member. The returned event channel must
// be drained for as long as the connection is open.
type Dialer func(addr string, sessionTimeout time.Duration, logger zk.Logger) (Conn, <-chan zk.Event, error)

// ZKDialer dials with github.com/go-zookeeper/zk.
func ZKDialer(addr string, sessionTimeout time.Duration, logger zk.Logger) (Conn, <-chan zk.Event, error) {
	conn, events, err := zk.Connect([]string{addr}, sessionTimeout, zk.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	return conn, events, nil
}

// Client is a live session as seen by scenarios and retry helpers.
type Client interface {
	Member() string
	Create(path string, data []byte) error
	Delete(path string) error
	Exists(path string) (bool, error)
	Get(path string) ([]byte, error)
	Stop()
	Close() error
}

var _ Client = (*Session)(nil)

// Release stops then closes c. It is safe to call with a nil client.
func Release(c Client) error {
	if c == nil {
		return nil
	}

	c.Stop()
	return c.Close()
}

// Session is a connection to one member that has reached the
// has-session state. It owns exactly one transport.
type Session struct {
	member string
	addr   string
	conn   Conn
	log    *slog.Logger

	stopOnce  sync.Once
	closeOnce sync.Once
	stopped   chan struct{}
	drained   chan struct{}

	mu    sync.Mutex
	state zk.State
}

func newSession(member, addr string, conn Conn, events <-chan zk.Event, log *slog.Logger) *Session {
	s := &Session{
		member:  member,
		addr:    addr,
		conn:    conn,
		log:     log,
		stopped: make(chan struct{}),
		drained: make(chan struct{}),
		state:   zk.StateHasSession,
	}
	go s.watch(events)

	return s
}

// watch drains connection events; go-zookeeper panics on a full channel.
func (s *Session) watch(events <-chan zk.Event) {
	defer close(s.drained)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}

			s.mu.Lock()
			s.state = ev.State
			s.mu.Unlock()
			s.log.Debug("session state changed", slog.String("state", ev.State.String()))
		case <-s.stopped:
			// Keep draining until the transport closes the channel
			for range events {
			}
			return
		}
	}
}

// Member returns the member the session is connected to.
func (s *Session) Member() string {
	if s == nil {
		return ""
	}
	return s.member
}

// State returns the last observed connection state.
func (s *Session) State() zk.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) released() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// Create creates a persistent path with data.
func (s *Session) Create(path string, data []byte) error {
	if s.released() {
		return ErrSessionReleased
	}

	if _, err := s.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll)); err != nil {
		return fmt.Errorf("create %s on %s: %w", path, s.member, err)
	}

	return nil
}

// Delete removes path regardless of its version.
func (s *Session) Delete(path string) error {
	if s.released() {
		return ErrSessionReleased
	}

	if err := s.conn.Delete(path, -1); err != nil {
		return fmt.Errorf("delete %s on %s: %w", path, s.member, err)
	}

	return nil
}

// Exists reports whether path exists.
func (s *Session) Exists(path string) (bool, error) {
	if s.released() {
		return false, ErrSessionReleased
	}

	ok, _, err := s.conn.Exists(path)
	if err != nil {
		return false, fmt.Errorf("exists %s on %s: %w", path, s.member, err)
	}

	return ok, nil
}

// Get returns the payload stored at path.
func (s *Session) Get(path string) ([]byte, error) {
	if s.released() {
		return nil, ErrSessionReleased
	}

	data, _, err := s.conn.Get(path)
	if err != nil {
		return nil, fmt.Errorf("get %s on %s: %w", path, s.member, err)
	}

	return data, nil
}

// Stop ends event processing; further operations fail. Idempotent.
func (s *Session) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Close releases the transport. Idempotent.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}

	s.Stop()
	s.closeOnce.Do(func() {
		s.conn.Close()
		s.log.Debug("session closed")
	})

	return nil
}

// slogAdapter routes go-zookeeper's Printf logging to slog at debug level.
type slogAdapter struct {
	log *slog.Logger
}

func (a slogAdapter) Printf(format string, args ...any) {
	a.log.Debug(fmt.Sprintf(format, args...))
}
