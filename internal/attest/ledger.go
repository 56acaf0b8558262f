package attest

import (
	"maps"
	"slices"
	"sync"

	"github.com/st3v3nmw/quorumcheck/internal/keeper"
)

// ledger tracks what a scenario opened and created so that anything its
// cleanup missed can still be released.
type ledger struct {
	mu       sync.Mutex
	sessions []keeper.Client
	paths    map[string]string
	created  map[string]struct{}
}

func newLedger() *ledger {
	return &ledger{
		paths:   make(map[string]string),
		created: make(map[string]struct{}),
	}
}

func (l *ledger) addSession(c keeper.Client) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessions = append(l.sessions, c)
}

func (l *ledger) dropSession(c keeper.Client) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessions = slices.DeleteFunc(l.sessions, func(s keeper.Client) bool { return s == c })
}

// takeSessions returns and forgets every open session.
func (l *ledger) takeSessions() []keeper.Client {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions := l.sessions
	l.sessions = nil
	return sessions
}

func (l *ledger) addPath(path, member string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.paths[path] = member
	l.created[path] = struct{}{}
}

func (l *ledger) dropPath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.paths, path)
}

// pendingPaths returns paths still present, sorted, with the member that created them.
func (l *ledger) pendingPaths() ([]string, map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Sorted(maps.Keys(l.paths)), maps.Clone(l.paths)
}

// createdPaths returns every path created during the scenario, sorted.
func (l *ledger) createdPaths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Sorted(maps.Keys(l.created))
}
