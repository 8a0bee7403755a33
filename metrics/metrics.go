package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeltasProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsync_deltas_produced_total",
			Help: "Total number of deltas committed, by kind",
		},
		[]string{"kind"},
	)

	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabsync_version_conflicts_total",
			Help: "Total number of compare-and-apply version conflicts",
		},
	)

	RetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabsync_mutation_retries_exhausted_total",
			Help: "Total number of mutations abandoned after the retry budget",
		},
	)

	DeltasDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabsync_deltas_delivered_total",
			Help: "Total number of delta frames queued for delivery, by topic kind",
		},
		[]string{"topic_kind"},
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabsync_delivery_failures_total",
			Help: "Total number of connections torn down for failed or stalled delivery",
		},
	)

	SnapshotsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabsync_snapshots_pushed_total",
			Help: "Total number of reconciliation snapshots pushed",
		},
	)

	ResyncRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabsync_resync_requests_total",
			Help: "Total number of reconnect backfills that fell back to a snapshot",
		},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabsync_active_connections",
			Help: "Number of live WebSocket connections",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabsync_active_subscriptions",
			Help: "Number of live topic subscriptions",
		},
	)

	MutationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabsync_mutation_duration_seconds",
			Help:    "Time from mutation request to committed delta",
			Buckets: prometheus.DefBuckets,
		},
	)
)
