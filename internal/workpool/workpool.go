// Package workpool runs embarrassingly parallel per-cell work on a bounded
// number of goroutines. A Pool is owned by one calibration or projection run
// and passed explicitly to the components that use it.
package workpool

import (
	"context"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of items dispatched between cancellation
// checks.
const DefaultBatchSize = 8192

// Pool is a bounded parallel map executor.
type Pool struct {
	workers   int
	batchSize int
}

// Option configures a Pool.
type Option func(*Pool)

// WithBatchSize sets the number of items processed between cancellation
// checks.
func WithBatchSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// DefaultWorkers leaves one CPU for the orchestrating goroutine.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// New creates a Pool with the given worker count; workers <= 0 selects
// DefaultWorkers.
func New(workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	p := &Pool{workers: workers, batchSize: DefaultBatchSize}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Map calls fn for every i in [0, n) and blocks until all calls return.
// Work is split into contiguous chunks, one goroutine per chunk, so fn must
// only write to state owned by index i. The context is checked before each
// batch; the first error from fn aborts the remaining work.
func (p *Pool) Map(ctx context.Context, n int, fn func(i int) error) error {
	for start := 0; start < n; start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "workpool: cancelled")
		}
		end := min(start+p.batchSize, n)

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers)

		chunk := (end - start + p.workers - 1) / p.workers
		for lo := start; lo < end; lo += chunk {
			hi := min(lo+chunk, end)
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					if gCtx.Err() != nil {
						return nil
					}
					if err := fn(i); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "workpool: cancelled")
		}
	}
	return nil
}

// MapFloat64 evaluates fn over [0, n) and collects the results in index
// order.
func MapFloat64(ctx context.Context, p *Pool, n int, fn func(i int) float64) ([]float64, error) {
	out := make([]float64, n)
	err := p.Map(ctx, n, func(i int) error {
		out[i] = fn(i)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
