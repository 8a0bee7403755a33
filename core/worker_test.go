package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 4, 32, zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(func() { done.Add(1) }))
	}

	require.Eventually(t, func() bool {
		return done.Load() == 20
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, zap.NewNop().Sugar())
	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolNotRunning)
}

func TestWorkerPoolQueueFull(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the single queue slot.
	require.NoError(t, pool.Submit(func() { <-block }))

	sawFull := false
	for i := 0; i < 10; i++ {
		if err := pool.Submit(func() {}); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			sawFull = true
			break
		}
	}
	assert.True(t, sawFull, "expected a saturated queue")
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, 8, zap.NewNop().Sugar())
	pool.Start()
	pool.Stop()

	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolNotRunning)
}

func TestWorkerPoolRecoversFromPanickingTask(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 8, zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(func() { panic("task exploded") }))

	// Recovery ends the panicking worker goroutine, but Stop must still
	// drain cleanly without hanging the pool.
	time.Sleep(50 * time.Millisecond)
}
