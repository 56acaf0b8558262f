package cluster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsConcurrently(t *testing.T) {
	p := NewPool(3)

	var running, peak atomic.Int32
	var barrier sync.WaitGroup
	barrier.Add(3)

	err := p.Run(context.Background(), []string{"node1", "node2", "node3"}, func(ctx context.Context, name string) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}

		barrier.Done()
		barrier.Wait()
		running.Add(-1)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), peak.Load())
}

func TestPoolLimit(t *testing.T) {
	p := NewPool(1)

	var running atomic.Int32
	err := p.Run(context.Background(), []string{"a", "b", "c"}, func(ctx context.Context, name string) error {
		if running.Add(1) > 1 {
			return errors.New("limit exceeded")
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	assert.NoError(t, err)
}

func TestPoolJoinsEveryError(t *testing.T) {
	p := NewPool(3)
	errA := errors.New("a failed")
	errC := errors.New("c failed")

	var calls atomic.Int32
	err := p.Run(context.Background(), []string{"a", "b", "c"}, func(ctx context.Context, name string) error {
		calls.Add(1)
		switch name {
		case "a":
			return errA
		case "c":
			return errC
		}
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "one failure should not cancel the others")
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Equal(t, "a: a failed\nc: c failed", err.Error())
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(2)

	err := p.Run(context.Background(), []string{"a", "b"}, func(ctx context.Context, name string) error {
		if name == "b" {
			panic("kaboom")
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: panic: kaboom")
}

func TestPoolEmpty(t *testing.T) {
	assert.NoError(t, NewPool(0).Run(context.Background(), nil, nil))
}
