// Package pool runs per-item work on a bounded set of workers. Each worker
// owns a resource (a store client, a record service handle) built once when
// the worker starts and reused for every item it processes.
package pool

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is used when the caller asks for fewer than one worker.
const DefaultWorkers = 8

// Setup builds one worker's resource.
type Setup[W any] func(ctx context.Context) (W, error)

// Work processes one item with a worker's resource. It must convert its
// own failures into R; it cannot fail the pool.
type Work[T, W, R any] func(ctx context.Context, w W, item T) R

// Collect receives results in completion order. Calls are serialized.
type Collect[T, R any] func(item T, r R)

// Run processes items on at most workers goroutines and returns the items
// that were never processed, either because ctx was cancelled before they
// were picked up or because no worker resource could be built for them.
// The returned error joins worker setup failures and is informational: the
// affected items are in the unresolved slice.
func Run[T, W, R any](
	ctx context.Context,
	workers int,
	items []T,
	setup Setup[W],
	work Work[T, W, R],
	collect Collect[T, R],
) ([]T, error) {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if workers > len(items) {
		workers = len(items)
	}
	if workers == 0 {
		return nil, nil
	}

	var (
		mu        sync.Mutex
		done      = make([]bool, len(items))
		setupErrs []error
		idle      = make(chan W, workers)
	)

	acquire := func() (W, error) {
		select {
		case w := <-idle:
			return w, nil
		default:
			return setup(ctx)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			w, err := acquire()
			if err != nil {
				mu.Lock()
				setupErrs = append(setupErrs, err)
				mu.Unlock()
				return nil
			}
			r := work(ctx, w, item)
			idle <- w

			mu.Lock()
			defer mu.Unlock()
			done[i] = true
			collect(item, r)
			return nil
		})
	}
	_ = g.Wait()

	var unresolved []T
	for i, ok := range done {
		if !ok {
			unresolved = append(unresolved, items[i])
		}
	}
	return unresolved, errors.Join(setupErrs...)
}
