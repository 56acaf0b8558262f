package keeper

import (
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

// fakeServer is an in-memory member that grants sessions only while serving.
type fakeServer struct {
	mu          sync.Mutex
	nodes       map[string][]byte
	serving     bool
	failDeletes int
	// failWith is returned by the failing deletes; zk.ErrConnectionClosed when nil.
	failWith  error
	deleteErr error
	dials       int
	open        int
}

func newFakeServer(serving bool) *fakeServer {
	return &fakeServer{nodes: make(map[string][]byte), serving: serving}
}

func (s *fakeServer) setServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serving = serving
}

func (s *fakeServer) stats() (dials, open int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials, s.open
}

func (s *fakeServer) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[path]
	return ok
}

func (s *fakeServer) dial(addr string, _ time.Duration, _ zk.Logger) (Conn, <-chan zk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dials++
	s.open++

	events := make(chan zk.Event, 4)
	events <- zk.Event{Type: zk.EventSession, State: zk.StateConnecting, Server: addr}
	if s.serving {
		events <- zk.Event{Type: zk.EventSession, State: zk.StateConnected, Server: addr}
		events <- zk.Event{Type: zk.EventSession, State: zk.StateHasSession, Server: addr}
	}

	return &fakeConn{srv: s, events: events}, events, nil
}

type fakeConn struct {
	srv    *fakeServer
	events chan zk.Event
	once   sync.Once
}

func (c *fakeConn) Create(path string, data []byte, _ int32, _ []zk.ACL) (string, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	if _, ok := c.srv.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	c.srv.nodes[path] = data
	return path, nil
}

func (c *fakeConn) Delete(path string, _ int32) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	if c.srv.failDeletes > 0 {
		c.srv.failDeletes--
		if c.srv.failWith != nil {
			return c.srv.failWith
		}
		return zk.ErrConnectionClosed
	}
	if c.srv.deleteErr != nil {
		return c.srv.deleteErr
	}
	if _, ok := c.srv.nodes[path]; !ok {
		return zk.ErrNoNode
	}
	delete(c.srv.nodes, path)
	return nil
}

func (c *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	_, ok := c.srv.nodes[path]
	return ok, &zk.Stat{}, nil
}

func (c *fakeConn) Get(path string) ([]byte, *zk.Stat, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	data, ok := c.srv.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return data, &zk.Stat{}, nil
}

func (c *fakeConn) Close() {
	c.once.Do(func() {
		c.srv.mu.Lock()
		c.srv.open--
		c.srv.mu.Unlock()
		close(c.events)
	})
}
