package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstant(t *testing.T) {
	b := Constant(500 * time.Millisecond)()
	for range 30 {
		assert.Equal(t, 500*time.Millisecond, b.NextBackOff())
	}
}

func TestExponential(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second)()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "attempt %d", i+1)
	}
}

func TestRetry(t *testing.T) {
	errTransient := errors.New("connection loss")
	errFatal := errors.New("not empty")
	fast := Constant(time.Millisecond)

	tests := []struct {
		name     string
		attempts int
		fn       func(attempt int) error
		want     error
		made     int
	}{
		{"first try", 5, func(int) error { return nil }, nil, 1},
		{"eventually", 5, func(n int) error {
			if n < 3 {
				return errTransient
			}
			return nil
		}, nil, 3},
		{"exhausted", 4, func(int) error { return errTransient }, errTransient, 4},
		{"permanent", 5, func(int) error { return Permanent(errFatal) }, errFatal, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			made := 0
			err := Retry(context.Background(), fast, tt.attempts, func(n int) error {
				made = n
				return tt.fn(n)
			})

			if tt.want == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, tt.made, made)
		})
	}
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Retry(ctx, Constant(10*time.Second), 0, func(int) error {
		return errors.New("no quorum")
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSleep(t *testing.T) {
	assert.True(t, Sleep(context.Background(), 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.False(t, Sleep(ctx, time.Minute))
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, Sleep(ctx, 0))
}
