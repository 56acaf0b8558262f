package cluster

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultPoolSize covers a three-member ensemble in one wave.
const DefaultPoolSize = 3

// Pool applies lifecycle operations to several members at once.
type Pool struct {
	size int
}

// NewPool creates a pool running at most size operations at a time.
func NewPool(size int) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}

	return &Pool{size: size}
}

// Run calls fn for every name and waits for all of them. One failure never
// cancels the others: every error is joined in the order of names.
func (p *Pool) Run(ctx context.Context, names []string, fn func(ctx context.Context, name string) error) error {
	errs := make([]error, len(names))

	var g errgroup.Group
	g.SetLimit(p.size)

	for i, name := range names {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s: panic: %v", name, r)
				}
			}()

			if err := fn(ctx, name); err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}
