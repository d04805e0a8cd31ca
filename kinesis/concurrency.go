package kinesis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"
)

// mapConcurrently runs f over items with at most limit invocations in
// flight. Task i sleeps i*stagger before contending for a permit, which
// spreads out correlated bursts after a cold start or a retry wave. Results
// keep input order. The first error is returned after every task finishes.
func mapConcurrently[T, R any](
	ctx context.Context,
	clk clock.Clock,
	limit int,
	stagger time.Duration,
	items []T,
	f func(context.Context, T) (R, error),
) ([]R, error) {
	sem := semaphore.NewWeighted(int64(limit))
	results := make([]R, len(items))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errOnce.Do(func() { firstErr = fmt.Errorf("task %d panic: %v", i, r) })
				}
			}()

			if stagger > 0 && i > 0 {
				select {
				case <-clk.After(time.Duration(i) * stagger):
				case <-ctx.Done():
					errOnce.Do(func() { firstErr = ctx.Err() })
					return
				}
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			defer sem.Release(1)

			result, err := f(ctx, items[i])
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			results[i] = result
		}(i)
	}

	wg.Wait()

	return results, firstErr
}
