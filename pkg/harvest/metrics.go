package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_attempts_total",
			Help: "Fetch attempts by outcome (progress, no_progress, error)",
		},
		[]string{"source", "outcome"},
	)

	partitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_partitions_total",
			Help: "Finished partition runs by status",
		},
		[]string{"source", "status"},
	)

	totalDrift = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_total_drift_total",
			Help: "Changes of the reported expected total between attempts",
		},
		[]string{"source", "direction"},
	)

	backoffDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_backoff_delay_seconds",
			Help:    "Waits between attempts",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120, 300, 600},
		},
	)

	recordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_records_fetched_total",
			Help: "New records merged into checkpoints",
		},
		[]string{"source"},
	)
)
