// Package workpool dispatches blocking IaaS/driver calls off the caller's
// goroutine, the Go analogue of deferring a call to a worker thread in a
// cooperative single-scheduler host.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of concurrently in-flight blocking calls.
type Pool struct {
	sem chan struct{}
}

// New returns a Pool that allows at most size concurrent Run calls. A size
// of 0 means unbounded.
func New(size int) *Pool {
	var sem chan struct{}
	if size > 0 {
		sem = make(chan struct{}, size)
	}
	return &Pool{sem: sem}
}

// Run executes fn on a fresh goroutine and blocks until fn returns. If ctx is
// canceled while Run waits for a free slot, it returns ctx.Err() without
// running fn; once fn has started, cancellation reaches it only through the
// context it is passed. It satisfies provisioner.Runner.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fn(gctx)
	})
	return g.Wait()
}
