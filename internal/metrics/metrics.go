// Package metrics holds the Prometheus collectors for the ingestion
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbingest"

// Stage outcomes.
const (
	OutcomeDone        = "done"
	OutcomeFailed      = "failed"
	OutcomeRetry       = "retry"
	OutcomeSkipped     = "skipped"
	OutcomeNoCredits   = "insufficient_credits"
	OutcomeDuplicate   = "duplicate"
	OutcomeConfigError = "configuration_error"
)

var (
	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_outcomes_total",
		Help:      "Stage job outcomes by stage and result",
	}, []string{"stage", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Stage job processing time",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	CreditsCharged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credits_charged_total",
		Help:      "Credits debited for embedding",
	})

	VectorsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vectors_upserted_total",
		Help:      "Vector records written to the store",
	})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications discarded because the buffer was full",
	})

	BatchesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_completed_total",
		Help:      "Ingestion batches that reached completion",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
