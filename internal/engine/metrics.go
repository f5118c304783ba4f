package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqllink_queries_total",
			Help: "Total number of submitted requests by outcome.",
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqllink_query_duration_seconds",
			Help:    "Time from submission to response by outcome.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"outcome"},
	)
	queueWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqllink_query_queue_wait_seconds",
			Help:    "Time a request waited for a free worker.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)
	queriesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqllink_queries_in_flight",
			Help: "Number of requests currently held by a worker.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryDurationSeconds,
		queueWaitSeconds,
		queriesInFlight,
	)
}

func observeOutcome(outcome string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(outcome).Inc()
	queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
