// Package attesttest provides an in-memory keeper ensemble for exercising
// suites and scenarios without real processes.
package attesttest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/backoff"
	"github.com/st3v3nmw/quorumcheck/internal/cluster"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
	"github.com/st3v3nmw/quorumcheck/internal/node"
)

// MembershipFile is the config alias every fake member carries.
const MembershipFile = "enable_keeper"

const (
	msgCannotConnect = "Cannot connect to ZooKeeper (or Keeper) before internal Keeper start"
	msgConnected     = "Connected to ZooKeeper (or Keeper) before internal Keeper start"
)

var hostnameRe = regexp.MustCompile(`<hostname>([^<]+)</hostname>`)

// ErrNotServing is returned by Ready for members that are not running.
var ErrNotServing = errors.New("member is not serving")

// Ensemble is a set of fake members sharing one data tree. A member serves
// sessions only while a majority of the peers in its membership file run.
type Ensemble struct {
	// PollInterval paces connect retries.
	PollInterval time.Duration

	mu          sync.Mutex
	members     []*Member
	tree        map[string][]byte
	failDeletes int
	lostCreates int
	deletes     int
	open        int
}

// New creates a running ensemble whose members all list each other.
func New(names ...string) *Ensemble {
	e := &Ensemble{
		PollInterval: 5 * time.Millisecond,
		tree:         make(map[string][]byte),
	}

	var b strings.Builder
	b.WriteString("<clickhouse>\n  <keeper_server>\n    <raft_configuration>\n")
	for i, name := range names {
		fmt.Fprintf(&b, "      <server><id>%d</id><hostname>%s</hostname><port>9234</port></server>\n", i+1, name)
	}
	b.WriteString("    </raft_configuration>\n  </keeper_server>\n</clickhouse>\n")

	for _, name := range names {
		e.members = append(e.members, &Member{
			e:        e,
			name:     name,
			state:    node.StateRunning,
			config:   map[string]string{MembershipFile: b.String()},
			original: map[string]string{MembershipFile: b.String()},
		})
	}

	return e
}

// Member returns the named member or nil.
func (e *Ensemble) Member(name string) *Member {
	for _, m := range e.members {
		if m.name == name {
			return m
		}
	}

	return nil
}

// Exists reports whether path is in the tree.
func (e *Ensemble) Exists(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.tree[path]
	return ok
}

// Paths returns every path in the tree, sorted.
func (e *Ensemble) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Sorted(maps.Keys(e.tree))
}

// Put writes path directly, bypassing sessions.
func (e *Ensemble) Put(path, data string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tree[path] = []byte(data)
}

// FailDeletes makes the next n deletes fail with a closed connection.
func (e *Ensemble) FailDeletes(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failDeletes = n
}

// Deletes returns how many deletes reached a member with quorum.
func (e *Ensemble) Deletes() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.deletes
}

// LoseCreates makes the next n creates commit their path and then fail
// with a closed connection, as when the reply is lost.
func (e *Ensemble) LoseCreates(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lostCreates = n
}

// OpenSessions returns the number of sessions not yet released.
func (e *Ensemble) OpenSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.open
}

// Cluster exposes the ensemble to a suite. Deletes go through a real
// retrier with a short backoff.
func (e *Ensemble) Cluster() *attest.Cluster {
	members := make([]attest.Member, len(e.members))
	for i, m := range e.members {
		members[i] = m
	}

	retrier := keeper.NewRetrier(func(ctx context.Context, member string) (keeper.Client, error) {
		return e.Connect(ctx, member, 200*time.Millisecond)
	})
	retrier.Attempts = 5
	retrier.Backoff = backoff.Constant(5 * time.Millisecond)
	retrier.Logger = slog.New(slog.DiscardHandler)

	return &attest.Cluster{
		Members: members,
		Pool:    cluster.NewPool(cluster.DefaultPoolSize),
		Connect: e.Connect,
		Deleter: retrier,
	}
}

// Connect opens a session once the member runs with a quorum behind it.
func (e *Ensemble) Connect(ctx context.Context, member string, timeout time.Duration) (keeper.Client, error) {
	m := e.Member(member)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", keeper.ErrUnknownMember, member)
	}

	start := time.Now()
	attempts := 0
	for {
		attempts++

		e.mu.Lock()
		ok := m.state == node.StateRunning && e.quorum(m, true)
		if ok {
			e.open++
		}
		e.mu.Unlock()

		if ok {
			return &session{e: e, m: m}, nil
		}

		if time.Since(start) >= timeout || !backoff.Sleep(ctx, e.PollInterval) {
			return nil, &keeper.ConnectionTimeoutError{
				Member:   member,
				Addr:     "fake",
				Attempts: attempts,
				Elapsed:  time.Since(start),
				Cause:    keeper.ErrNotConnected,
			}
		}
	}
}

// quorum reports whether a majority of m's peers run. The caller holds e.mu.
func (e *Ensemble) quorum(m *Member, includeSelf bool) bool {
	peers := hostnameRe.FindAllStringSubmatch(m.config[MembershipFile], -1)
	if len(peers) == 0 {
		return false
	}

	running := 0
	for _, p := range peers {
		pm := e.Member(p[1])
		if pm == nil || (pm == m && !includeSelf) {
			continue
		}
		if pm.state == node.StateRunning {
			running++
		}
	}

	return running >= len(peers)/2+1
}

// Member is a fake ensemble member.
type Member struct {
	e    *Ensemble
	name string

	state    node.State
	log      []byte
	config   map[string]string
	original map[string]string
	startErr error

	starts   int
	restarts int
}

var _ attest.Member = (*Member)(nil)

func (m *Member) Name() string { return m.name }

func (m *Member) State() node.State {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	return m.state
}

// FailStart makes every later start fail with err until cleared with nil.
func (m *Member) FailStart(err error) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	m.startErr = err
}

// Starts returns how many times the member booted.
func (m *Member) Starts() int {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	return m.starts
}

// Restarts returns how many times the member restarted.
func (m *Member) Restarts() int {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	return m.restarts
}

// SetConfig overwrites a config file without requiring the member to stop.
func (m *Member) SetConfig(file, content string) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	m.config[file] = content
}

func (m *Member) logf(format string, args ...any) {
	m.log = fmt.Appendf(m.log, time.Now().Format("2006.01.02 15:04:05.000000")+" <Information> "+format+"\n", args...)
}

// boot logs whether the member found an existing quorum. The caller holds e.mu.
func (m *Member) boot() {
	m.starts++
	m.logf("Starting keeper %s", m.name)
	if m.e.quorum(m, false) {
		m.logf(msgConnected)
	} else {
		m.logf(msgCannotConnect)
	}
}

func (m *Member) Start(ctx context.Context) error {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}

	switch m.state {
	case node.StateRunning:
		return nil
	case node.StateStopped:
		m.boot()
	}
	m.state = node.StateRunning

	return nil
}

func (m *Member) Spawn(ctx context.Context) error {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	if m.state != node.StateStopped {
		return nil
	}
	m.boot()
	m.state = node.StateStarting

	return nil
}

func (m *Member) Stop(ctx context.Context) error {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	if m.state == node.StateStopped {
		return nil
	}
	m.logf("Received termination signal")
	m.state = node.StateStopped

	return nil
}

func (m *Member) Restart(ctx context.Context) error {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}

	m.restarts++
	m.logf("Received termination signal")
	m.state = node.StateStopped
	m.boot()
	m.state = node.StateRunning

	return nil
}

func (m *Member) Ready(ctx context.Context) error {
	if m.State() != node.StateRunning {
		return ErrNotServing
	}

	return nil
}

func (m *Member) ReplaceInConfig(file, from, to string) (int, error) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	if m.state != node.StateStopped {
		return 0, fmt.Errorf("member %s: %w", m.name, node.ErrNotStopped)
	}

	content, ok := m.config[file]
	if !ok {
		return 0, fmt.Errorf("member %s: %w: %s", m.name, node.ErrUnknownConfig, file)
	}

	n := strings.Count(content, from)
	m.config[file] = strings.ReplaceAll(content, from, to)

	return n, nil
}

func (m *Member) ConfigDrift() ([]string, error) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	var drift []string
	for alias, content := range m.original {
		if m.config[alias] != content {
			drift = append(drift, alias)
		}
	}
	slices.Sort(drift)

	return drift, nil
}

func (m *Member) RestoreConfig() error {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	m.config = maps.Clone(m.original)
	return nil
}

func (m *Member) LogMark() (node.Mark, error) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	return node.Mark{"log": int64(len(m.log))}, nil
}

func (m *Member) LogSince(mark node.Mark) (string, error) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()

	offset := mark["log"]
	if offset > int64(len(m.log)) {
		offset = 0
	}

	return string(m.log[offset:]), nil
}

// session is a fake client session. Every operation needs the member's
// quorum at the time it runs.
type session struct {
	e *Ensemble
	m *Member

	released bool
}

func (s *session) Member() string { return s.m.name }

func (s *session) check() error {
	if s.released {
		return keeper.ErrSessionReleased
	}
	if s.m.state != node.StateRunning || !s.e.quorum(s.m, true) {
		return zk.ErrConnectionClosed
	}

	return nil
}

func (s *session) Create(path string, data []byte) error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.e.tree[path]; ok {
		return zk.ErrNodeExists
	}
	s.e.tree[path] = data

	if s.e.lostCreates > 0 {
		s.e.lostCreates--
		return zk.ErrConnectionClosed
	}

	return nil
}

func (s *session) Delete(path string) error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	s.e.deletes++
	if s.e.failDeletes > 0 {
		s.e.failDeletes--
		return zk.ErrConnectionClosed
	}
	if _, ok := s.e.tree[path]; !ok {
		return zk.ErrNoNode
	}
	delete(s.e.tree, path)

	return nil
}

func (s *session) Exists(path string) (bool, error) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()

	if err := s.check(); err != nil {
		return false, err
	}
	_, ok := s.e.tree[path]

	return ok, nil
}

func (s *session) Get(path string) ([]byte, error) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	data, ok := s.e.tree[path]
	if !ok {
		return nil, zk.ErrNoNode
	}

	return data, nil
}

func (s *session) Stop() {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()

	if !s.released {
		s.released = true
		s.e.open--
	}
}

func (s *session) Close() error { return nil }
