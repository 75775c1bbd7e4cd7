// Package metrics exposes Prometheus instrumentation for the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts finished sync runs by mode and outcome ("success" or "error").
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creatorsync_sync_runs_total",
			Help: "Total number of finished sync runs",
		},
		[]string{"mode", "outcome"},
	)

	// SyncRunDuration observes how long sync runs take.
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "creatorsync_sync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"mode"},
	)

	// SyncFailures counts failed runs by the stage that failed and the error kind.
	SyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creatorsync_sync_failures_total",
			Help: "Total number of failed sync runs by stage and error kind",
		},
		[]string{"stage", "kind"},
	)

	// SyncsInFlight is the number of sync runs currently executing in this process.
	SyncsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "creatorsync_syncs_in_flight",
			Help: "Number of sync runs currently executing",
		},
	)

	// SyncConflicts counts start requests rejected because a sync was already in flight.
	SyncConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "creatorsync_sync_conflicts_total",
			Help: "Total number of sync start requests rejected as conflicts",
		},
	)

	// ItemsSynced counts persisted items by kind ("fan" or "transaction").
	ItemsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creatorsync_items_synced_total",
			Help: "Total number of items written to storage",
		},
		[]string{"kind"},
	)

	// RecordsDropped counts records dropped during mapping by reason.
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creatorsync_records_dropped_total",
			Help: "Total number of platform records dropped during mapping",
		},
		[]string{"reason"},
	)

	// CircuitBreakerState is the current breaker state (0 closed, 1 half-open, 2 open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "creatorsync_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequests counts breaker-guarded calls by result.
	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creatorsync_circuit_breaker_requests_total",
			Help: "Total number of circuit breaker guarded requests by result",
		},
		[]string{"name", "result"},
	)

	// HTTPRequests counts HTTP requests by method, route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creatorsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes HTTP request latency by method and route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "creatorsync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
