package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tabsync/metrics"
	"tabsync/util/goroutine"
)

// Reconciler is the consistency backstop. On a fixed interval, independent
// of delta traffic, it re-pushes a full current-state snapshot of every
// order that has at least one active subscriber. Clients treat snapshots
// as authoritative and overwrite local state regardless of their tracked
// version, healing drift from dropped deltas or missed replays.
type Reconciler struct {
	store    *Store
	sink     Sink
	interval time.Duration
	pool     *WorkerPool
	logger   *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a reconciliation scheduler pushing snapshots via
// the given worker pool.
func NewReconciler(store *Store, sink Sink, interval time.Duration, pool *WorkerPool, logger *zap.SugaredLogger) *Reconciler {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Reconciler{
		store:    store,
		sink:     sink,
		interval: interval,
		pool:     pool,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the reconcile loop. Call Stop to shut it down.
func (r *Reconciler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		defer close(r.done)
		defer goroutine.Recover("reconciler", r.logger)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Infow("Reconciler started", "interval", r.interval)
		for {
			select {
			case <-loopCtx.Done():
				r.logger.Info("Reconciler stopped")
				return
			case <-ticker.C:
				r.runCycle(loopCtx)
			}
		}
	}()
}

// Stop terminates the reconcile loop and waits for it to exit.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// runCycle pushes one snapshot per subscribed live order. Skipped orders
// are not retried within the cycle; the next cycle covers them.
func (r *Reconciler) runCycle(ctx context.Context) {
	start := time.Now()
	pushed := 0

	for _, orderID := range r.store.LiveOrders() {
		if ctx.Err() != nil {
			return
		}

		order, _, err := r.store.Get(ctx, orderID)
		if err != nil {
			continue
		}
		topics := ResolveDestinations(order, nil)
		if !r.sink.HasSubscribers(topics) {
			continue
		}

		o := order
		t := topics
		if err := r.pool.Submit(func() {
			r.sink.PublishSnapshot(t, o)
			metrics.SnapshotsPushed.Inc()
		}); err != nil {
			r.logger.Warnw("Snapshot push skipped",
				"order_id", orderID,
				"error", err)
			continue
		}
		pushed++
	}

	r.logger.Debugw("Reconcile cycle finished",
		"snapshots", pushed,
		"elapsed", time.Since(start))
}
