package attest

import (
	"context"
	"time"

	"github.com/st3v3nmw/quorumcheck/internal/keeper"
	"github.com/st3v3nmw/quorumcheck/internal/node"
)

// Member is one ensemble member under orchestration.
type Member interface {
	Name() string
	State() node.State
	Start(ctx context.Context) error
	Spawn(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Ready(ctx context.Context) error
	ReplaceInConfig(file, from, to string) (int, error)
	ConfigDrift() ([]string, error)
	RestoreConfig() error
	LogMark() (node.Mark, error)
	LogSince(mark node.Mark) (string, error)
}

var _ Member = (*node.Handle)(nil)

// Runner applies fn to every named member concurrently and joins the errors.
type Runner interface {
	Run(ctx context.Context, names []string, fn func(ctx context.Context, name string) error) error
}

// Deleter removes a path through a member, retrying transient failures.
type Deleter interface {
	DeleteWithRetry(ctx context.Context, member, path string) error
}

// ConnectWithin opens a session to member, giving up after timeout.
type ConnectWithin func(ctx context.Context, member string, timeout time.Duration) (keeper.Client, error)

// Cluster is everything a suite needs from a running ensemble. Members are
// kept in their configured order.
type Cluster struct {
	Members []Member
	Pool    Runner
	Connect ConnectWithin
	Deleter Deleter
}

func (c *Cluster) member(name string) (Member, bool) {
	for _, m := range c.Members {
		if m.Name() == name {
			return m, true
		}
	}

	return nil, false
}

func (c *Cluster) names() []string {
	names := make([]string, len(c.Members))
	for i, m := range c.Members {
		names[i] = m.Name()
	}

	return names
}
