// Package storage implements the durable order repository the state store
// caches over. The engine only depends on the OrderRepository contract;
// SQLite is the bundled implementation.
package storage

import (
	"context"

	"tabsync/core"
)

// OrderRepository persists orders across restarts. The state store writes
// through on every committed mutation and loads on first touch.
type OrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (*core.Order, error)
	SaveOrder(ctx context.Context, order *core.Order) error
	ArchiveOrder(ctx context.Context, orderID string) error
	ListActiveOrders(ctx context.Context) ([]*core.Order, error)
	Close() error
}
