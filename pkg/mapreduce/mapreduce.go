// Package mapreduce runs independent units of work with bounded concurrency and
// hands their results back to a single consumer.
package mapreduce

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Result is the output of one unit, tagged with the unit's position in the input.
type Result[T any] struct {
	Index int
	Value T
}

// Run is an in-progress Map. Drain Results, then read Err.
type Run[T any] struct {
	results chan Result[T]
	stopped atomic.Bool
	err     error
}

// Map calls fn for each item with at most limit calls in flight. Before each
// call starts, a slot must be free and stop (if set) must report false; once
// either check fails no further calls start. A failing call stops the run and
// cancels the context seen by the calls still running. Results arrive in completion order.
func Map[I, T any](ctx context.Context, items []I, limit int, stop func() bool, fn func(ctx context.Context, index int, item I) (T, error)) *Run[T] {
	r := &Run[T]{results: make(chan Result[T], len(items))}
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(max(limit, 1)))

	go func() {
		for i, item := range items {
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			if r.stopped.Load() || (stop != nil && stop()) {
				sem.Release(1)
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				v, err := fn(gctx, i, item)
				if err != nil {
					r.stopped.Store(true)
					return err
				}
				r.results <- Result[T]{Index: i, Value: v}
				return nil
			})
		}
		r.err = g.Wait()
		close(r.results)
	}()

	return r
}

// Results is closed once every started call has returned.
func (r *Run[T]) Results() <-chan Result[T] {
	return r.results
}

// Stop prevents calls that have not started yet from starting.
func (r *Run[T]) Stop() {
	r.stopped.Store(true)
}

// Err returns the first error from fn. Only valid after Results is closed.
func (r *Run[T]) Err() error {
	return r.err
}
