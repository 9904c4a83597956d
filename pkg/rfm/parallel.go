package rfm

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// forEachChunk splits [0,n) into contiguous chunks and runs fn on each in parallel.
// Each chunk owns its index range, so fn may write results[lo:hi] without locking.
// It returns once every chunk has finished.
func forEachChunk(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	size := (n + workers - 1) / workers
	if size < 256 {
		size = 256
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += size {
		lo, hi := lo, min(lo+size, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}
