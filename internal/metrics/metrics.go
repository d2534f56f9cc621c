// Package metrics holds the prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NetworkOnline is 1 while the monitor reports online
	NetworkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steady_network_online",
			Help: "Whether the process currently considers itself online",
		},
	)

	// FailedRequests mirrors the monitor's consecutive failure counter
	FailedRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steady_network_failed_requests",
			Help: "Failed data source requests since the last success or reconnect",
		},
	)

	// NetworkTransitions counts connectivity transitions
	NetworkTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_network_transitions_total",
			Help: "Total number of connectivity transitions",
		},
		[]string{"type"},
	)

	// RetryAttempts counts operation invocations made by the retry executor
	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steady_retry_attempts_total",
			Help: "Total number of operation invocations",
		},
	)

	// RetryOutcomes counts terminal executor states
	RetryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_retry_outcomes_total",
			Help: "Terminal outcomes of retry loops",
		},
		[]string{"outcome"},
	)

	// RetryBackoff tracks backoff waits
	RetryBackoff = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steady_retry_backoff_seconds",
			Help:    "Backoff delay before a retry attempt",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)

	// CacheOps counts cache reads and writes by result
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_cache_ops_total",
			Help: "Cache operations by kind and result",
		},
		[]string{"op", "result"},
	)

	// CacheErrors counts swallowed storage failures
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_cache_errors_total",
			Help: "Storage failures swallowed by the cache",
		},
		[]string{"op"},
	)

	// CacheSwept counts entries removed by the periodic sweep
	CacheSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "steady_cache_swept_total",
			Help: "Entries removed by the expiry sweep",
		},
	)

	// QueryRuns counts coordinated runs by result (fresh, fallback, error, cancelled)
	QueryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_query_runs_total",
			Help: "Coordinated query runs by result",
		},
		[]string{"key", "result"},
	)

	// QueryRefetches counts refetches by trigger
	QueryRefetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_query_refetches_total",
			Help: "Query refetches by trigger",
		},
		[]string{"trigger"},
	)

	// RealtimeEvents counts change notifications received
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_realtime_events_total",
			Help: "Change notifications received, by topic and whether they matched the filter",
		},
		[]string{"topic", "matched"},
	)

	// SourceLatency tracks data source request latency
	SourceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steady_source_latency_seconds",
			Help:    "Data source request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

var (
	// DBConnectionPoolUsage tracks DB connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "steady_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
