package hivescan

import (
	"context"
	"sync"
)

// -----------------------------------------------------------------------------
// Listing & concurrency configuration
// -----------------------------------------------------------------------------

// Default pool bounds. Explicit configuration always wins; there are no
// environment toggles.
const (
	defaultWorkers  = 8
	defaultPrefetch = 16
)

// ListConfig bounds the scanner's concurrent I/O. It is passed at
// construction time so that concurrent scans never share ambient state.
type ListConfig struct {
	// Workers is the bounded pool size for listing and per-file reads.
	// Zero selects the default.
	Workers int

	// Prefetch bounds how many operations may be dispatched ahead of the
	// workers when Async is set, providing backpressure against unbounded
	// concurrent requests to remote storage. Zero selects the default.
	Prefetch int

	// Async selects non-blocking listing, suitable for object storage.
	// Synchronous listing is the default and suits local filesystems.
	// Both strategies produce identical FileEntry ordering.
	Async bool
}

func (c ListConfig) withDefaults() ListConfig {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.Prefetch <= 0 {
		c.Prefetch = defaultPrefetch
	}
	return c
}

// run executes n independent tasks. When parallel is false, tasks run
// sequentially in index order. When parallel is true, tasks run on a bounded
// worker pool with prefetch backpressure; callers preserve ordering by
// writing results into indexed slots. The first task error cancels the rest
// and is returned; no further tasks are dispatched after cancellation.
func (c ListConfig) run(ctx context.Context, n int, parallel bool, task func(ctx context.Context, i int) error) error {
	cfg := c.withDefaults()

	if !parallel || cfg.Workers == 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := task(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := cfg.Workers
	if workers > n {
		workers = n
	}

	indexes := make(chan int, cfg.Prefetch)
	errCh := make(chan error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					return
				}
				if err := task(ctx, i); err != nil {
					errCh <- err
					cancel()
					return
				}
			}
		}()
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(indexes)
	wg.Wait()
	close(errCh)

	if err, ok := <-errCh; ok && err != nil {
		return err
	}
	return ctx.Err()
}
