// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MutationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mutations_completed_total",
			Help: "Total number of store mutations completed",
		},
		[]string{"operation"},
	)

	MutationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mutations_failed_total",
			Help: "Total number of store mutations failed",
		},
		[]string{"operation", "error_code"},
	)

	MutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sync_mutation_duration_seconds",
			Help: "Duration of store mutations in seconds",
		},
		[]string{"operation"},
	)

	SubscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_subscriptions_active",
			Help: "Number of live subscriptions per collection",
		},
		[]string{"collection"},
	)

	SnapshotsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_snapshots_emitted_total",
			Help: "Total number of full result-set emissions per collection",
		},
		[]string{"collection"},
	)
)
