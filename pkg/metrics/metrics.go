package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Monitor loop metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmedic_ticks_total",
			Help: "Total number of completed monitor ticks",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowmedic_tick_duration_seconds",
			Help:    "Monitor tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TickErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmedic_tick_errors_total",
			Help: "Total number of per-project errors hit during ticks",
		},
	)

	FailedWorkflowsFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmedic_failed_workflows_found_total",
			Help: "Total number of failed workflow instances observed",
		},
	)

	// Recovery metrics
	RecoveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmedic_recovery_attempts_total",
			Help: "Total number of recovery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmedic_notifications_total",
			Help: "Total number of outbound notifications by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	NotificationsSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmedic_notifications_suppressed_total",
			Help: "Total number of notifications suppressed by the rate limiter",
		},
	)

	// Orchestrator API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmedic_api_requests_total",
			Help: "Total number of orchestrator API requests by call and status",
		},
		[]string{"call", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowmedic_api_request_duration_seconds",
			Help:    "Orchestrator API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	APICacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmedic_api_cache_hits_total",
			Help: "Total number of orchestrator API cache hits",
		},
	)

	APICacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmedic_api_cache_misses_total",
			Help: "Total number of orchestrator API cache misses",
		},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(TickErrorsTotal)
	prometheus.MustRegister(FailedWorkflowsFound)
	prometheus.MustRegister(RecoveryAttemptsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(NotificationsSuppressed)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(APICacheHits)
	prometheus.MustRegister(APICacheMisses)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
