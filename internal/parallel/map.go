// Package parallel runs independent work with bounded concurrency.
package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map calls mapFunc for every element of seq with at most limit calls in
// flight. Results are yielded in the input order, so the typical usage is
//
//	for report, err := range parallel.Map(ctx, 2, slices.Values(profiles), run) {}
//
// Breaking the loop cancels the context passed to running calls and
// waits for them. A limit lower than 1 means 1.
func Map[E, D any](ctx context.Context, limit int, seq iter.Seq[E], mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	if limit < 1 {
		limit = 1
	}
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		var g errgroup.Group
		g.SetLimit(limit)

		// results in the input order, every channel gets exactly one value
		pending := make(chan chan result[D], limit)
		go func() {
			defer close(pending)
			for entry := range seq {
				ch := make(chan result[D], 1)
				select {
				case pending <- ch:
				case <-ctx.Done():
					return
				}
				g.Go(func() error {
					d, err := mapFunc(ctx, entry)
					ch <- result[D]{d: d, e: err}
					return nil
				})
			}
		}()

		defer func() {
			cancel()
			for range pending {
			}
			_ = g.Wait()
		}()

		for ch := range pending {
			r := <-ch
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
