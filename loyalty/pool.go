package loyalty

import (
	"context"
	"sync"
)

// WorkerPool runs submitted tasks with a fixed concurrency bound. Submit
// blocks once the bound is reached, so producers feel back-pressure instead
// of queuing unbounded work.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(capacity int) *WorkerPool {
	if capacity <= 0 {
		capacity = 1
	}
	return &WorkerPool{sem: make(chan struct{}, capacity)}
}

// Submit runs fn on its own goroutine once a slot frees up. Returns the
// context error when ctx ends before a slot is acquired.
func (p *WorkerPool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Wait blocks until every submitted task has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
