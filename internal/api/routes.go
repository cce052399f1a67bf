package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freightalloc/internal/metrics"
)

// Routes returns the API mux wrapped in request-id propagation.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, instrument(pattern, h)) }

	// Contracts
	handle("/v1/contracts", s.ContractsHandler)
	handle("/v1/contracts/import", s.ContractImportHandler)
	handle("/v1/contracts/", s.ContractByIDHandler)

	// Allocations
	handle("/v1/allocations", s.AllocationsHandler)
	handle("/v1/allocations/", s.AllocationByIDHandler)
	handle("/v1/capacity", s.CapacityHandler)

	// Events
	handle("/v1/events/stream", s.EventsStreamHandler)
	handle("/v1/events/ws", s.EventsWSHandler)

	// Health and ops
	handle("/healthz", s.HealthHandler)
	handle("/readyz", s.ReadyHandler)
	handle("/debug/vars.json", s.DebugJSON)
	handle("/openapi.yaml", s.OpenAPIHandler)
	handle("/docs", s.DocsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return RequestID(mux)
}
