package images

import (
	"context"
	"errors"
	"sync"
)

type job func(ctx context.Context)

// workerPool runs jobs on a fixed number of goroutines. Wait drains every
// submitted job before returning.
type workerPool struct {
	ctx  context.Context
	jobs chan job
	wg   sync.WaitGroup
}

func newWorkerPool(ctx context.Context, concurrency, queueSize int) (*workerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	pool := &workerPool{ctx: ctx, jobs: make(chan job, queueSize)}
	for i := 0; i < concurrency; i++ {
		pool.wg.Add(1)
		go func() {
			defer pool.wg.Done()
			for fn := range pool.jobs {
				if pool.ctx.Err() != nil {
					continue
				}
				fn(pool.ctx)
			}
		}()
	}
	return pool, nil
}

// Submit schedules a job, giving up when the context is done.
func (p *workerPool) Submit(fn job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- fn:
		return nil
	}
}

// Wait closes the queue and blocks until all workers exit.
func (p *workerPool) Wait() {
	close(p.jobs)
	p.wg.Wait()
}
