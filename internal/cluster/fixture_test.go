package cluster

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/st3v3nmw/quorumcheck/internal/keeper"
	"github.com/st3v3nmw/quorumcheck/internal/metrics"
	"github.com/st3v3nmw/quorumcheck/internal/node"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ready(context.Context, string) error { return nil }

func specs(script string, names ...string) []node.Spec {
	out := make([]node.Spec, len(names))
	for i, name := range names {
		out[i] = node.Spec{
			Name:       name,
			Command:    "sh",
			Args:       []string{"-c", script},
			ClientAddr: "127.0.0.1:9181",
		}
	}

	return out
}

func options(t *testing.T) Options {
	return Options{
		Node: node.Options{
			RunDir:          t.TempDir(),
			StartTimeout:    2 * time.Second,
			ShutdownTimeout: 2 * time.Second,
			PollInterval:    10 * time.Millisecond,
			Probe:           ready,
		},
		DeleteAttempts: 4,
		DeleteBackoff:  time.Millisecond,
		Absent:         keeper.AbsentIsRetryable,
		Logger:         slog.New(slog.DiscardHandler),
	}
}

func TestFixtureLifecycle(t *testing.T) {
	reg := metrics.NewRegistry()
	opts := options(t)
	opts.Metrics = reg

	f, err := New(specs("echo up; exec sleep 30", "node1", "node2", "node3"), opts)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.Start(ctx), "second start should be a no-op")

	for _, h := range f.Members() {
		assert.Equal(t, node.StateRunning, h.State(), h.Name())
	}

	require.NoError(t, f.Shutdown(ctx))
	require.NoError(t, f.Shutdown(ctx))

	for _, h := range f.Members() {
		assert.Equal(t, node.StateStopped, h.State(), h.Name())
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.MemberTransitionsTotal.WithLabelValues("node2", "start", "ok")))
}

func TestFixtureStartFailureShutsDown(t *testing.T) {
	opts := options(t)
	opts.Node.Probe = func(context.Context, string) error { return errors.New("refused") }

	f, err := New(specs("exit 3", "node1", "node2"), opts)
	require.NoError(t, err)

	err = f.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, node.ErrProcessExited)
	assert.Contains(t, err.Error(), "node1:")
	assert.Contains(t, err.Error(), "node2:")

	for _, h := range f.Members() {
		assert.Equal(t, node.StateStopped, h.State())
	}
}

func TestFixtureValidation(t *testing.T) {
	_, err := New(nil, options(t))
	assert.Error(t, err)

	_, err = New(specs("true", "node1", "node1"), options(t))
	assert.ErrorContains(t, err, "duplicate member node1")
}

func TestFixtureWiring(t *testing.T) {
	f, err := New(specs("true", "node1", "node2", "node3"), options(t))
	require.NoError(t, err)

	assert.Equal(t, 4, f.Retrier().Attempts)
	assert.Equal(t, keeper.AbsentIsRetryable, f.Retrier().Absent)
	assert.Equal(t, time.Millisecond, f.Retrier().Backoff().NextBackOff())

	h, ok := f.Member("node2")
	require.True(t, ok)
	assert.Equal(t, "node2", h.Name())

	_, ok = f.Member("node9")
	assert.False(t, ok)

	c := f.Cluster()
	require.Len(t, c.Members, 3)
	assert.Equal(t, "node3", c.Members[2].Name())
	assert.Same(t, f.Retrier(), c.Deleter)

	_, err = c.Connect(context.Background(), "node9", time.Millisecond)
	assert.ErrorIs(t, err, keeper.ErrUnknownMember)
}
