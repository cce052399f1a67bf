package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// AllocationRuns counts allocation runs by strategy and outcome (ok, invalid, error)
	AllocationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "allocation_runs_total", Help: "Allocation runs by strategy and outcome."},
		[]string{"strategy", "outcome"},
	)
	// PackDuration tracks per-direction packing time in seconds
	PackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "allocation_pack_duration_seconds", Help: "Bin packing duration per direction.", Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10}},
		[]string{"strategy", "direction"},
	)
	// BinsOpened counts vessels opened per direction
	BinsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "allocation_bins_total", Help: "Bins (vessel loads) produced."},
		[]string{"direction"},
	)
	// UnscheduledContracts counts contracts left unscheduled by reason
	UnscheduledContracts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "allocation_unscheduled_total", Help: "Contracts left unscheduled by reason."},
		[]string{"direction", "reason"},
	)
	// SolverTimeouts counts exact searches that hit their time budget
	SolverTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "allocation_solver_timeouts_total", Help: "Exact solver runs that stopped at the time budget."},
		[]string{"direction"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(AllocationRuns)
		Registry.MustRegister(PackDuration)
		Registry.MustRegister(BinsOpened)
		Registry.MustRegister(UnscheduledContracts)
		Registry.MustRegister(SolverTimeouts)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
