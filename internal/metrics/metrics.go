// Package metrics holds the Prometheus instrumentation for wgtally.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest result labels.
const (
	ResultOK         = "ok"
	ResultParseError = "parse_error"
	ResultStoreError = "store_error"
)

var (
	IngestBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wgtally_ingest_batches_total",
			Help: "Dump ingestion calls by result",
		},
		[]string{"result"},
	)

	IngestObservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wgtally_ingest_observations_total",
			Help: "Observations written by successful ingestions",
		},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wgtally_ingest_duration_seconds",
			Help:    "Duration of dump ingestion in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wgtally_api_requests_total",
			Help: "HTTP requests by plane, route and status",
		},
		[]string{"plane", "route", "status"},
	)
)

// RecordIngest records the outcome of one ingestion call.
func RecordIngest(result string, observations int, d time.Duration) {
	IngestBatches.WithLabelValues(result).Inc()
	IngestDuration.Observe(d.Seconds())
	if result == ResultOK {
		IngestObservations.Add(float64(observations))
	}
}

// RecordAPIRequest counts one HTTP request.
func RecordAPIRequest(plane, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	APIRequests.WithLabelValues(plane, route, strconv.Itoa(status)).Inc()
}
