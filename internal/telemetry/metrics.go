// Package telemetry registers flyoverhead's Prometheus metrics, grounded on
// the pack's harbor_hook worker (prometheus/client_golang counters per
// delivery outcome) generalized to cover ingestion as well as delivery.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	// ObservationsDropped counts observations rejected at normalization
	// (missing icao24, out-of-range coordinates/altitude).
	ObservationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyoverhead_observations_dropped_total",
			Help: "Observations dropped during normalization, by reason.",
		},
		[]string{"source", "reason"},
	)

	// RecordsAccepted counts records that passed the §4.4 acceptance rules
	// and were written to the store.
	RecordsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyoverhead_records_accepted_total",
			Help: "Records accepted by the ingestion worker, by source.",
		},
		[]string{"source"},
	)

	// RecordsRejected counts records rejected by the acceptance predicate.
	RecordsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyoverhead_records_rejected_total",
			Help: "Records rejected by the ingestion worker's acceptance rules.",
		},
		[]string{"source"},
	)

	// OutOfRangeVelocity counts observations whose velocity, after unit
	// conversion, still falls outside a plausible knots range (spec.md §9
	// open question (b)).
	OutOfRangeVelocity = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyoverhead_out_of_range_velocity_total",
			Help: "Observations whose velocity (in knots) is implausible after conversion.",
		},
		[]string{"source"},
	)

	// QueueDepth reports the current length of a queue's main list.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flyoverhead_queue_depth",
			Help: "Current depth of a durable queue's main list.",
		},
		[]string{"queue"},
	)

	// DeliveryOutcomes counts every webhook delivery attempt by outcome
	// (success or failure), mirroring harbor_hook's metrics.RecordDelivery.
	DeliveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyoverhead_webhook_delivery_total",
			Help: "Webhook delivery attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// DeliveryLatency observes end-to-end HTTP call latency for webhook
	// deliveries.
	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flyoverhead_webhook_delivery_latency_seconds",
			Help:    "Webhook delivery HTTP call latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// GovernorDecisions counts governor allow/deny decisions.
	GovernorDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyoverhead_governor_decisions_total",
			Help: "Governor token-bucket / breaker decisions, by result.",
		},
		[]string{"result"},
	)

	// DLQDepth reports current dead-letter list length.
	DLQDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flyoverhead_dlq_depth",
			Help: "Current depth of a queue's dead-letter list.",
		},
		[]string{"queue"},
	)

	// CacheSize reports the current entry count of the hot cache.
	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flyoverhead_hotcache_entries",
			Help: "Current number of entries held in the live-state hot cache.",
		},
	)
)

// MustRegister registers every flyoverhead metric against reg, in the
// style of harbor_hook's metrics.MustRegister(reg).
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		ObservationsDropped,
		RecordsAccepted,
		RecordsRejected,
		OutOfRangeVelocity,
		QueueDepth,
		DeliveryOutcomes,
		DeliveryLatency,
		GovernorDecisions,
		DLQDepth,
		CacheSize,
	)
}
