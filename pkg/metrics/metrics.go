package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_http_requests_total",
			Help: "Total inbound HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskbridge_http_request_duration_seconds",
			Help:    "Inbound HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Ingestion metrics
	AuthRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_auth_rejections_total",
			Help: "Inbound requests rejected by signature verification",
		},
		[]string{"reason"},
	)

	DuplicateDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_duplicate_deliveries_total",
			Help: "Deliveries absorbed by the idempotency guard",
		},
		[]string{"source"}, // "event" or "command"
	)

	// Outbound metrics
	OutboundAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_outbound_attempts_total",
			Help: "Outbound HTTP attempts by host and outcome",
		},
		[]string{"host", "outcome"}, // "ok", "retry", "exhausted", "returned"
	)

	// Aggregation metrics
	HistoryDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_history_degraded_total",
			Help: "History batches dropped after a failed fetch",
		},
		[]string{"source"}, // "thread" or "channel"
	)

	ContextEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskbridge_context_escalations_total",
			Help: "Extractions retried with the extended history window",
		},
	)

	// Task metrics
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskbridge_tasks_processed_total",
			Help: "Detached task flows by outcome",
		},
		[]string{"outcome"}, // "created" or "failed"
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskbridge_task_duration_seconds",
			Help:    "Detached task flow duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)
