// Package workerpool provides the one bounded worker pool type used by
// the query orchestrator (C8) for needle fan-out and by the quality-score
// pipeline (C5) for tile work. The template matcher (C6) does not use it;
// it validates candidates sequentially.
//
// Grounded on golang.org/x/sync's errgroup+semaphore pattern, which the
// rest of the example pack reaches for whenever it needs bounded fan-out
// (see DESIGN.md); there is no teacher worker pool to adapt since the
// teacher's domain (an HTTP API) never needed one of its own.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent work to a fixed number of goroutines.
type Pool struct {
	sem *semaphore.Weighted
	n   int
}

// New returns a pool with the given concurrency. n<=0 means
// runtime.NumCPU(), matching spec §5's "typically num_cpus" default.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), n: n}
}

// Size returns the pool's concurrency bound.
func (p *Pool) Size() int { return p.n }

// Run runs fns concurrently, bounded by the pool's size, and returns the
// first error encountered (if any), cancelling the rest via ctx.
func (p *Pool) Run(ctx context.Context, fns []func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		if err := p.sem.Acquire(ctx, 1); err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return fn(ctx)
		})
	}
	return g.Wait()
}

// RunIndexed is Run for a simple "do i in [0,n)" shape, the common case
// for tiled pixel work and per-needle search.
func (p *Pool) RunIndexed(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	fns := make([]func(context.Context) error, n)
	for i := range fns {
		i := i
		fns[i] = func(ctx context.Context) error { return fn(ctx, i) }
	}
	return p.Run(ctx, fns)
}
