package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation_error"
	OutcomeStore      = "store_error"
)

var (
	// QueriesTotal counts engine calls by dialect, operation (query, count) and outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestquery_queries_total",
			Help: "Total number of request queries",
		},
		[]string{"dialect", "operation", "outcome"},
	)
	// QueryDuration is the store round-trip latency.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "requestquery_query_duration_seconds",
			Help:    "Store query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dialect", "operation"},
	)
	// RowsReturned is the page size actually returned.
	RowsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "requestquery_rows_returned",
			Help:    "Rows returned per query",
			Buckets: []float64{0, 1, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"dialect"},
	)
	HydrationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestquery_hydration_failures_total",
			Help: "Signed URL resolutions that failed during hydration",
		},
		[]string{"kind"},
	)
	SignedURLs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestquery_signed_urls_total",
			Help: "Signed URL requests by outcome",
		},
		[]string{"outcome"},
	)
)
