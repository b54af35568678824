package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks worker pool counters.
type PoolMetrics struct {
	Size      int   `json:"size"`
	Active    int64 `json:"active"`
	Waiting   int64 `json:"waiting"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool bounds how many runs execute at once. Callers beyond the bound
// wait for a slot.
type WorkerPool struct {
	size   int
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	active, waiting, completed, failed, panics atomic.Int64

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		size:   size,
		sem:    make(chan struct{}, size),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Submit starts fn on its own goroutine once a slot is free. It blocks while
// the pool is full and gives up when ctx ends or the pool shuts down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	go func() {
		_ = p.execute(ctx, fn)
	}()
	return nil
}

// Do runs fn in a pool slot on the calling goroutine and returns its error.
// A panic inside fn is returned as an error.
func (p *WorkerPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	return p.execute(ctx, fn)
}

func (p *WorkerPool) acquire(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	return nil
}

func (p *WorkerPool) execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.ErrorContext(ctx, "pool task panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		p.active.Add(-1)
		<-p.sem
		p.wg.Done()
	}()
	return fn(ctx)
}

// Wait blocks until all started work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new work and waits for running work to finish.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Size:      p.size,
		Active:    p.active.Load(),
		Waiting:   p.waiting.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
