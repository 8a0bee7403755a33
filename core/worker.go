package core

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"tabsync/util/goroutine"
)

// ErrPoolNotRunning is returned when submitting to a stopped pool.
var ErrPoolNotRunning = errors.New("worker pool is not running")

// ErrQueueFull is returned when the task queue is saturated.
var ErrQueueFull = errors.New("worker pool queue is full")

// WorkerPool runs tasks on a fixed set of goroutines. The reconciler uses
// it to push snapshots concurrently so one slow subscriber set cannot
// stall a reconciliation cycle.
type WorkerPool struct {
	workers int
	taskCh  chan func()
	wg      sync.WaitGroup
	logger  *zap.SugaredLogger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

// NewWorkerPool creates a pool of the given size. Workers are not started
// until Start is called.
func NewWorkerPool(ctx context.Context, workers, queueSize int, logger *zap.SugaredLogger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		workers: workers,
		taskCh:  make(chan func(), queueSize),
		logger:  logger,
		ctx:     poolCtx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines. Safe to call once per pool.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		return
	}
	wp.running = true

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go func() {
			defer wp.wg.Done()
			defer goroutine.Recover("worker-pool", wp.logger)
			for {
				select {
				case <-wp.ctx.Done():
					return
				case task, ok := <-wp.taskCh:
					if !ok {
						return
					}
					task()
				}
			}
		}()
	}
}

// Submit enqueues a task without blocking. A saturated queue returns
// ErrQueueFull; callers on the reconcile path log and move on because the
// next cycle heals whatever this one skipped.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.Lock()
	running := wp.running
	wp.mu.Unlock()
	if !running {
		return ErrPoolNotRunning
	}

	select {
	case <-wp.ctx.Done():
		return ErrPoolNotRunning
	case wp.taskCh <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the pool context and waits for workers to drain. Safe to
// call multiple times.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.mu.Unlock()

	wp.cancel()
	wp.wg.Wait()
}
