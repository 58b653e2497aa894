/**
 * CPU Worker Pool
 *
 * Bounds the number of pages processed concurrently through the CPU-heavy
 * stages. Image preprocessing and OCR both saturate a core per page, so the
 * pool defaults to one slot per CPU.
 */

package pipeline

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent page work
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool with the given number of slots. Zero or negative
// means one slot per CPU.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Size returns the number of pool slots
func (p *Pool) Size() int {
	return p.size
}

// ForEach runs fn for every index in [0, n) with bounded concurrency and
// waits for all started work to finish. Per-item failures are the caller's
// to record inside fn; the returned error only reflects context
// cancellation, in which case remaining items are not started.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(i int)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for i := 0; i < n; i++ {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer p.sem.Release(1)
			fn(i)
		}(i)
	}

	return nil
}
