package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"tabsync/metrics"
)

// OrderRepository is the durable persistence collaborator. The store is a
// cache over it: orders are loaded on first touch and written through on
// every committed mutation.
type OrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	SaveOrder(ctx context.Context, order *Order) error
	ArchiveOrder(ctx context.Context, orderID string) error
}

// Mutation is a semantic change request. Apply mutates the given clone of
// the current order and returns the kind-specific delta payload describing
// only the changed fields. Apply is re-evaluated on every optimistic retry
// so it must be a pure function of the order it receives.
type Mutation struct {
	Kind  DeltaKind
	Apply func(o *Order) (payload any, err error)
}

// archivedCacheSize bounds how many terminated orders stay readable in
// memory for receipt views after archival.
const archivedCacheSize = 512

// orderEntry holds one live order together with its retained delta log.
// The mutex serializes conflicting writers on the same order; writers on
// different orders never contend.
type orderEntry struct {
	mu    sync.Mutex
	order *Order
	log   []*Delta
}

// Store is the authoritative in-memory representation of every live order
// and its version counter, backed by the durable repository.
type Store struct {
	mu      sync.RWMutex
	orders  map[string]*orderEntry
	archive *lru.Cache[string, *Order]

	repo     OrderRepository // optional
	mirror   *DeltaCache     // optional restart-survivable delta log mirror
	logLimit int
	logger   *zap.SugaredLogger
}

// NewStore creates an order state store retaining at most logLimit deltas
// per order for reconnect replay.
func NewStore(repo OrderRepository, mirror *DeltaCache, logLimit int, logger *zap.SugaredLogger) *Store {
	if logLimit <= 0 {
		logLimit = 64
	}
	archive, _ := lru.New[string, *Order](archivedCacheSize)
	return &Store{
		orders:   make(map[string]*orderEntry),
		archive:  archive,
		repo:     repo,
		mirror:   mirror,
		logLimit: logLimit,
		logger:   logger,
	}
}

// Create registers a new order at version 0 and persists it.
func (s *Store) Create(ctx context.Context, order *Order) error {
	if order.Version != 0 {
		return fmt.Errorf("new order %s has version %d, want 0", order.ID, order.Version)
	}

	s.mu.Lock()
	if _, exists := s.orders[order.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = &orderEntry{order: order}
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveOrder(ctx, order); err != nil {
			s.mu.Lock()
			delete(s.orders, order.ID)
			s.mu.Unlock()
			return fmt.Errorf("persist new order: %w", err)
		}
	}

	s.logger.Infow("Order created",
		"order_id", order.ID,
		"restaurant_id", order.RestaurantID,
		"table_id", order.TableID)
	return nil
}

// Restore places an order loaded from the repository directly into the
// live set at startup, without re-persisting it. Its retained delta log
// starts empty, so clients reconnecting across the restart fall back to
// snapshots.
func (s *Store) Restore(order *Order) error {
	if order.Status.Terminal() {
		s.archive.Add(order.ID, order)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already live", order.ID)
	}
	s.orders[order.ID] = &orderEntry{order: order}
	return nil
}

// Get returns a copy of the order and its current version. Archived orders
// remain readable through the archive cache and the repository.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, int64, error) {
	entry, err := s.entry(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderArchived) {
			if archived, ok := s.archive.Get(orderID); ok {
				return archived.Clone(), archived.Version, nil
			}
		}
		return nil, 0, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	order := entry.order.Clone()
	return order, order.Version, nil
}

// CompareAndApply atomically applies a mutation against the expected
// version. If the stored version differs at commit time it fails with
// ErrConflict instead of overwriting; this is the sole mechanism
// preventing lost updates from concurrent mutators. A successful apply
// appends the resulting delta to the order's retained log.
func (s *Store) CompareAndApply(ctx context.Context, orderID string, expectedVersion int64, m Mutation) (*Order, *Delta, error) {
	entry, err := s.entry(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.order.Status.Terminal() {
		return nil, nil, fmt.Errorf("order %s: %w", orderID, ErrOrderArchived)
	}
	if entry.order.Version != expectedVersion {
		metrics.VersionConflicts.Inc()
		return nil, nil, fmt.Errorf("order %s at version %d, expected %d: %w",
			orderID, entry.order.Version, expectedVersion, ErrConflict)
	}

	next := entry.order.Clone()
	payload, err := m.Apply(next)
	if err != nil {
		return nil, nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()

	delta := &Delta{
		OrderID:    orderID,
		Version:    next.Version,
		Kind:       m.Kind,
		Payload:    payload,
		ProducedAt: next.UpdatedAt,
	}

	// Durability before visibility: a repository failure fails the commit
	// and leaves the in-memory state untouched.
	if s.repo != nil {
		if err := s.repo.SaveOrder(ctx, next); err != nil {
			return nil, nil, fmt.Errorf("persist order %s: %w", orderID, err)
		}
	}

	entry.order = next
	entry.log = append(entry.log, delta)
	if len(entry.log) > s.logLimit {
		entry.log = entry.log[len(entry.log)-s.logLimit:]
	}

	// Mirror failures must not roll back a committed version.
	if s.mirror != nil {
		if err := s.mirror.Append(ctx, delta); err != nil {
			s.logger.Warnw("Delta mirror append failed",
				"order_id", orderID,
				"version", delta.Version,
				"error", err)
		}
	}

	metrics.DeltasProduced.WithLabelValues(string(m.Kind)).Inc()
	return next.Clone(), delta, nil
}

// DeltasSince returns the deltas with versions fromVersion+1 up to the
// current version, in order. It fails with ErrStaleClient when the
// retained log no longer covers that window; the caller must fall back to
// a full snapshot.
func (s *Store) DeltasSince(ctx context.Context, orderID string, fromVersion int64) ([]*Delta, error) {
	entry, err := s.entry(ctx, orderID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	current := entry.order.Version
	if fromVersion >= current {
		entry.mu.Unlock()
		return nil, nil
	}
	deltas := make([]*Delta, 0, current-fromVersion)
	for _, d := range entry.log {
		if d.Version > fromVersion {
			deltas = append(deltas, d)
		}
	}
	entry.mu.Unlock()

	if contiguous(deltas, fromVersion, current) {
		return deltas, nil
	}

	// The in-memory window is gone (bounded log or restart); the redis
	// mirror may still cover it.
	if s.mirror != nil {
		if mirrored, ok := s.mirror.Since(ctx, orderID, fromVersion, current); ok {
			return mirrored, nil
		}
	}
	return nil, fmt.Errorf("order %s replay from version %d: %w", orderID, fromVersion, ErrStaleClient)
}

// contiguous reports whether deltas cover exactly from+1..to in order.
func contiguous(deltas []*Delta, from, to int64) bool {
	if int64(len(deltas)) != to-from {
		return false
	}
	want := from + 1
	for _, d := range deltas {
		if d.Version != want {
			return false
		}
		want++
	}
	return true
}

// Archive moves a terminated order out of the live set. Further mutations
// fail; reads are served from the archive cache or the repository.
func (s *Store) Archive(ctx context.Context, orderID string) error {
	s.mu.Lock()
	entry, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	delete(s.orders, orderID)
	s.mu.Unlock()

	entry.mu.Lock()
	order := entry.order
	entry.mu.Unlock()
	s.archive.Add(orderID, order)

	if s.repo != nil {
		if err := s.repo.ArchiveOrder(ctx, orderID); err != nil {
			s.logger.Errorw("Repository archive failed",
				"order_id", orderID,
				"error", err)
			return err
		}
	}

	// The mirrored log serves reconnect replay for live orders only; drop
	// it rather than waiting for the TTL.
	if s.mirror != nil {
		if err := s.mirror.Drop(ctx, orderID); err != nil {
			s.logger.Warnw("Delta mirror drop failed",
				"order_id", orderID,
				"error", err)
		}
	}

	s.logger.Infow("Order archived",
		"order_id", orderID,
		"status", order.Status,
		"final_version", order.Version)
	return nil
}

// LiveOrders returns the IDs of all orders currently in the live set.
func (s *Store) LiveOrders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	return ids
}

// entry returns the live entry for an order, loading it from the
// repository on first touch after a restart.
func (s *Store) entry(ctx context.Context, orderID string) (*orderEntry, error) {
	s.mu.RLock()
	entry, ok := s.orders[orderID]
	s.mu.RUnlock()
	if ok {
		return entry, nil
	}

	if s.repo == nil {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		s.archive.Add(orderID, order)
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderArchived)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another loader may have won the race.
	if existing, ok := s.orders[orderID]; ok {
		return existing, nil
	}
	entry = &orderEntry{order: order}
	s.orders[orderID] = entry
	s.logger.Debugw("Order loaded from repository",
		"order_id", orderID,
		"version", order.Version)
	return entry, nil
}
