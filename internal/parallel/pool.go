// Package parallel provides the bounded worker pool that executes packing
// and assembly work. Pool size tracks the memory budget's parallelism
// ceiling, so admission to the pool is the pipeline's backpressure point.
package parallel

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit and Run after Close.
var ErrPoolClosed = errors.New("parallel: pool is closed")

// Pool is a fixed-size worker pool. Submit blocks while every worker is
// busy and the queue is full, which is the intended admission control:
// a generation task waits here rather than over-committing memory.
//
// Pool is safe for concurrent use.
type Pool struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	workers int
	closed  bool
}

// NewPool creates a pool with the given number of workers. Values below 1
// are treated as 1: the pipeline degrades to sequential execution rather
// than refusing work.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		tasks:   make(chan func(), workers*2),
		done:    make(chan struct{}),
		workers: workers,
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			// Drain queued work before exiting so a Close during a
			// generation pass does not strand submitted tasks.
			for {
				select {
				case task := <-p.tasks:
					task()
				default:
					return
				}
			}
		case task := <-p.tasks:
			task()
		}
	}
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Submit queues a task, blocking until a queue slot frees or ctx is done.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}
}

// Run queues a task and blocks until it has executed, or until ctx is done
// while still waiting for admission. Once admitted the task always runs,
// so callers can rely on cleanup inside it.
func (p *Pool) Run(ctx context.Context, task func()) error {
	ran := make(chan struct{})
	err := p.Submit(ctx, func() {
		defer close(ran)
		task()
	})
	if err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		// The task is queued and will still run; wait for it so the
		// caller never races its own cleanup.
		<-ran
		return ctx.Err()
	}
}

// Close stops the workers after draining queued tasks. Safe to call once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.done)
	p.wg.Wait()
}
