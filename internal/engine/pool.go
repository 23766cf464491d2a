package engine

import (
	"context"
	"sync"
)

// Pool is a bounded worker pool. Live evaluation cycles and backtest
// replay jobs run on separate pools so a saturated backtest queue
// cannot add latency to live ticks.
type Pool struct {
	name string
	sem  chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates a pool admitting at most size concurrent tasks.
func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		name: name,
		sem:  make(chan struct{}, size),
	}
}

// Run blocks until a slot is free (or ctx is done), then runs fn
// synchronously in the caller's goroutine. Callers that want
// asynchrony submit from their own goroutine; keeping execution on the
// caller preserves per-strategy ordering.
func (p *Pool) Run(ctx context.Context, fn func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.sem <- struct{}{}:
	}

	p.wg.Add(1)
	defer func() {
		<-p.sem
		p.wg.Done()
	}()

	fn()
	return nil
}

// Wait blocks until all admitted tasks have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
