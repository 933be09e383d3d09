// Package metrics provides Prometheus metrics for goszakup-etl.
//
// All collectors are registered on the default registry via promauto and
// shared process-wide; call sites record through the exported vars.
//
// # Basic Usage
//
//	metrics.PagesFetched.WithLabelValues("/v3/subject/all").Inc()
//
//	timer := metrics.NewTimer("persist")
//	rows := writeBatch(ctx, batch)
//	metrics.PersistDuration.WithLabelValues(table).Observe(timer.Stop().Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts registry API requests by endpoint and outcome.
	// Outcome is one of: success, auth_or_client, rate_limited,
	// server_error, network_error.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goszakup_etl_requests_total",
			Help: "Total registry API requests",
		},
		[]string{"endpoint", "outcome"},
	)

	// RequestDuration tracks registry API request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goszakup_etl_request_duration_seconds",
			Help:    "Registry API request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	// RetriesTotal counts transient-failure retries by endpoint.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goszakup_etl_retries_total",
			Help: "Total fetch retries after transient failures",
		},
		[]string{"endpoint"},
	)

	// PagesFetched counts pages consumed per endpoint.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goszakup_etl_pages_fetched_total",
			Help: "Total pages fetched",
		},
		[]string{"endpoint"},
	)

	// ItemsFetched counts items yielded per endpoint.
	ItemsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goszakup_etl_items_fetched_total",
			Help: "Total items fetched",
		},
		[]string{"endpoint"},
	)

	// RowsWritten counts rows written per table and persistence mode.
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goszakup_etl_rows_written_total",
			Help: "Total rows written to the destination",
		},
		[]string{"table", "mode"},
	)

	// PersistDuration tracks batch persist latency in seconds.
	PersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goszakup_etl_persist_duration_seconds",
			Help:    "Batch persist latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"table"},
	)

	// EntityLoads counts completed entity loads by terminal status
	// (success, empty, failed, skipped).
	EntityLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goszakup_etl_entity_loads_total",
			Help: "Total entity loads by terminal status",
		},
		[]string{"entity", "status"},
	)

	// EntityLoadDuration tracks full entity load latency in seconds.
	EntityLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goszakup_etl_entity_load_duration_seconds",
			Help:    "Entity load latency, fetch through persist",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"entity"},
	)

	// ActiveLoads tracks currently running entity loads.
	ActiveLoads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goszakup_etl_active_loads",
			Help: "Number of entity loads currently running",
		},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times, each returning the total elapsed time.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
