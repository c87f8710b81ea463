package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EvaluationsTotal is the counter for permission evaluations by outcome
	// (granted, denied). Registry registers it; evaluator.Require does not
	// increment it.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_evaluations_total",
			Help: "Total permission evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	// APIRequestsTotal is the counter for external API requests by version
	// and status. The api package does not increment it.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_api_requests_total",
			Help: "Total external API requests by version and response status.",
		},
		[]string{"version", "status"},
	)

	// IntegrationRunsTotal is the counter for integration task runs by
	// integration and outcome. The scheduler does not increment it.
	IntegrationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hive_integration_runs_total",
			Help: "Total integration task runs by integration id and outcome.",
		},
		[]string{"integration", "outcome"},
	)

	// IntegrationRunDurationSeconds is a histogram of integration task run
	// duration. The scheduler does not observe into it.
	IntegrationRunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hive_integration_run_duration_seconds",
			Help:    "Duration of integration task runs in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"integration"},
	)
)

// Registry builds a fresh Prometheus registry carrying this package's
// metrics plus the Go/process collectors, so the caller controls exactly
// what /metrics exposes instead of sharing the global default registry.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		EvaluationsTotal,
		APIRequestsTotal,
		IntegrationRunsTotal,
		IntegrationRunDurationSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
