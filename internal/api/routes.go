package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		RequestID(),
		Logging(h.logger),
		Metrics(h.metrics),
	)

	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, chain(fn))
	}

	// Ensembles
	handle("GET /api/v1/ensembles", h.ListEnsembles)
	handle("POST /api/v1/ensembles", h.SaveEnsemble)
	handle("POST /api/v1/ensembles/validate", h.ValidateEnsemble)
	handle("GET /api/v1/ensembles/{name}", h.GetEnsemble)

	// Runs
	handle("POST /api/v1/ensembles/{name}/runs", h.RunEnsemble)
	handle("GET /api/v1/runs", h.ListRuns)
	handle("GET /api/v1/runs/{id}", h.GetRun)
	handle("POST /api/v1/runs/{id}/cancel", h.CancelRun)

	// Triggers
	handle("GET /api/v1/triggers", h.ListTriggers)

	// Service
	handle("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}
