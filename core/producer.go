package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tabsync/metrics"
)

// Applier is the slice of the store contract the producer depends on.
type Applier interface {
	Get(ctx context.Context, orderID string) (*Order, int64, error)
	CompareAndApply(ctx context.Context, orderID string, expectedVersion int64, m Mutation) (*Order, *Delta, error)
}

// Producer turns mutation requests into committed, versioned deltas. On a
// version conflict it re-reads the freshest version, reapplies the
// semantic mutation and retries, bounded by the retry limit. For a single
// order, deltas are produced in strictly increasing version order.
type Producer struct {
	store      Applier
	retryLimit int
	logger     *zap.SugaredLogger
}

// NewProducer creates a delta producer with the given optimistic retry
// budget. retryLimit counts retries after the first attempt.
func NewProducer(store Applier, retryLimit int, logger *zap.SugaredLogger) *Producer {
	if retryLimit < 0 {
		retryLimit = 0
	}
	return &Producer{store: store, retryLimit: retryLimit, logger: logger}
}

// Produce applies the mutation and emits exactly one delta whose target
// version equals the version returned by the store. Exhausting the retry
// budget surfaces ErrConcurrentModification to the caller rather than
// looping indefinitely; the order is left without partial state.
func (p *Producer) Produce(ctx context.Context, orderID string, m Mutation) (*Order, *Delta, error) {
	for attempt := 0; attempt <= p.retryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		_, version, err := p.store.Get(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}

		order, delta, err := p.store.CompareAndApply(ctx, orderID, version, m)
		if err == nil {
			if attempt > 0 {
				p.logger.Debugw("Mutation committed after retry",
					"order_id", orderID,
					"kind", m.Kind,
					"attempts", attempt+1,
					"version", delta.Version)
			}
			return order, delta, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, nil, err
		}
	}

	metrics.RetriesExhausted.Inc()
	p.logger.Warnw("Mutation retry budget exhausted",
		"order_id", orderID,
		"kind", m.Kind,
		"retry_limit", p.retryLimit)
	return nil, nil, fmt.Errorf("order %s: %w", orderID, ErrConcurrentModification)
}
