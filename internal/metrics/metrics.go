// Package metrics holds the Prometheus collectors of the catalog pipeline.
// Collectors are registered on the default registry at init and exposed on
// GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Bus
	RequestsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peanut_population_requests_published_total",
			Help: "Population requests published, by outcome",
		},
		[]string{"outcome"}, // "ok", "error"
	)

	DeliveriesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peanut_population_deliveries_total",
			Help: "Population request deliveries handed to workers",
		},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peanut_population_dead_lettered_total",
			Help: "Population requests moved to the dead-letter queue, by backend",
		},
		[]string{"backend"},
	)

	// Worker
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peanut_population_messages_processed_total",
			Help: "Population deliveries processed, by result",
		},
		[]string{"result"}, // "acked", "provider_error", "persistence_error", "stale_ack", "invalid"
	)

	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "peanut_population_process_duration_seconds",
			Help:    "Time spent processing one population delivery",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecordsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peanut_catalog_records_upserted_total",
			Help: "Catalog records upserted by population workers",
		},
	)

	RecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peanut_catalog_records_skipped_total",
			Help: "Provider records skipped because required fields were missing or malformed",
		},
	)

	// Provider
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peanut_provider_requests_total",
			Help: "Calls to the external catalog provider, by status",
		},
		[]string{"status"}, // "ok", "error", "rejected"
	)

	ProviderFetchesTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peanut_provider_fetches_truncated_total",
			Help: "Provider fetches that stopped at the page limit with results left unread",
		},
	)

	ProviderCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peanut_provider_circuit_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Gateway
	RankedQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peanut_gateway_ranked_queries_total",
			Help: "Ranked catalog reads served by the gateway, by dimension",
		},
		[]string{"dimension"},
	)

	// Scheduler
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peanut_scheduler_runs_total",
			Help: "Scheduled population runs, by outcome",
		},
		[]string{"outcome"},
	)
)
