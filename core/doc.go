// Package core implements the order-synchronization engine: the
// authoritative order state store with per-order optimistic versioning,
// the delta producer, the topic router, and the reconciliation scheduler.
//
// Every committed mutation increments the order version by exactly one and
// yields a single immutable Delta. Subscribers apply a delta only when its
// version is exactly localVersion+1; anything else forces a snapshot
// resync. The reconciler periodically re-pushes full snapshots so that
// correctness never depends on every delta being delivered.
package core
