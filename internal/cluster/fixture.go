// Package cluster assembles a keeper ensemble from member specs and owns
// its lifecycle for the duration of a run.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/st3v3nmw/quorumcheck/internal/attest"
	"github.com/st3v3nmw/quorumcheck/internal/backoff"
	"github.com/st3v3nmw/quorumcheck/internal/keeper"
	"github.com/st3v3nmw/quorumcheck/internal/metrics"
	"github.com/st3v3nmw/quorumcheck/internal/node"
)

// Options configure a fixture.
type Options struct {
	Node   node.Options
	Keeper keeper.Options

	// ProbeTimeout bounds one readiness probe. Ignored when Node.Probe is set.
	ProbeTimeout time.Duration

	DeleteAttempts int
	DeleteBackoff  time.Duration
	Absent         keeper.AbsentPolicy

	PoolSize int

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Fixture is a started-once, shut-down-once ensemble.
type Fixture struct {
	members []*node.Handle
	pool    *Pool
	factory *keeper.Factory
	retrier *keeper.Retrier
	log     *slog.Logger

	startOnce sync.Once
	startErr  error
	stopOnce  sync.Once
	stopErr   error
}

// New creates handles for every spec. Nothing is started.
func New(specs []node.Spec, opts Options) (*Fixture, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("cluster needs at least one member")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	if opts.Node.Probe == nil {
		opts.Node.Probe = keeper.ServingProbe(opts.ProbeTimeout)
	}
	opts.Node.Logger = opts.Logger
	opts.Node.Metrics = opts.Metrics
	opts.Keeper.Logger = opts.Logger
	opts.Keeper.Metrics = opts.Metrics

	f := &Fixture{
		pool: NewPool(opts.PoolSize),
		log:  opts.Logger,
	}

	addrs := make(map[string]string, len(specs))
	for _, spec := range specs {
		if _, dup := addrs[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate member %s", spec.Name)
		}

		h, err := node.New(spec, opts.Node)
		if err != nil {
			return nil, err
		}
		f.members = append(f.members, h)
		addrs[spec.Name] = spec.ClientAddr
	}

	f.factory = keeper.NewFactory(addrs, opts.Keeper)

	f.retrier = keeper.NewRetrier(f.factory.ConnectFunc())
	f.retrier.Absent = opts.Absent
	f.retrier.Logger = opts.Logger
	f.retrier.Metrics = opts.Metrics
	if opts.DeleteAttempts > 0 {
		f.retrier.Attempts = opts.DeleteAttempts
	}
	if opts.DeleteBackoff > 0 {
		f.retrier.Backoff = backoff.Constant(opts.DeleteBackoff)
	}

	return f, nil
}

// Members returns the handles in configured order.
func (f *Fixture) Members() []*node.Handle {
	return f.members
}

// Member looks a handle up by name.
func (f *Fixture) Member(name string) (*node.Handle, bool) {
	for _, h := range f.members {
		if h.Name() == name {
			return h, true
		}
	}

	return nil, false
}

func (f *Fixture) names() []string {
	names := make([]string, len(f.members))
	for i, h := range f.members {
		names[i] = h.Name()
	}

	return names
}


// Retrier returns the retrying deleter.
func (f *Fixture) Retrier() *keeper.Retrier { return f.retrier }

// Start brings every member up concurrently. Later calls return the first
// call's result. If any member fails, the whole ensemble is shut down.
func (f *Fixture) Start(ctx context.Context) error {
	f.startOnce.Do(func() {
		f.log.Info("starting cluster", slog.Any("members", f.names()))

		f.startErr = f.pool.Run(ctx, f.names(), func(ctx context.Context, name string) error {
			h, _ := f.Member(name)
			return h.Start(ctx)
		})
		if f.startErr != nil {
			f.log.Error("cluster failed to start", slog.Any("error", f.startErr))
			_ = f.Shutdown(context.WithoutCancel(ctx))
		}
	})

	return f.startErr
}

// Shutdown stops every member. Later calls return the first call's result.
func (f *Fixture) Shutdown(ctx context.Context) error {
	f.stopOnce.Do(func() {
		f.log.Info("shutting cluster down")

		f.stopErr = f.pool.Run(ctx, f.names(), func(ctx context.Context, name string) error {
			h, _ := f.Member(name)
			return h.Stop(ctx)
		})
	})

	return f.stopErr
}

// Cluster exposes the fixture to a suite.
func (f *Fixture) Cluster() *attest.Cluster {
	members := make([]attest.Member, len(f.members))
	for i, h := range f.members {
		members[i] = h
	}

	return &attest.Cluster{
		Members: members,
		Pool:    f.pool,
		Connect: func(ctx context.Context, member string, timeout time.Duration) (keeper.Client, error) {
			s, err := f.factory.ConnectWithin(ctx, member, timeout)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Deleter: f.retrier,
	}
}
