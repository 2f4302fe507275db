/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests
  5. Metrics:    Request count and latency per route pattern

ROUTE GROUPS:
  /api/transfers/*       Transfer contract (validate, create, cancel)
  /api/queues/*          Costing queues
  /api/ledger/*          Stock ledger rows
  /api/documents/*       Business documents
  /api/reconciliation/*  Queue/ledger cross-checks
  /api/scenarios/*       Demo scenarios
  /metrics               Prometheus exposition
  /healthz               Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
	}))
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
		r.Handle("/metrics", h.Metrics.Handler())
	}

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.CreateTransfers)
			r.Post("/validate", h.ValidateTransfers)
			r.Post("/cancel", h.CancelTransfers)
			r.Post("/cancel/validate", h.ValidateCancel)
		})

		r.Route("/queues", func(r chi.Router) {
			r.Get("/", h.ListQueues)
			r.Get("/{item}/{location}", h.GetQueue)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", h.GetLedger)
			r.Get("/quantity", h.GetQuantityAt)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Post("/", h.CreateDocument)
			r.Get("/{kind}/{name}", h.GetDocument)
			r.Post("/{kind}/{name}/submit", h.SubmitDocument)
			r.Post("/{kind}/{name}/cancel", h.CancelDocument)
		})

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/", h.Reconcile)
			r.Get("/last", h.LastReconciliation)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetStore)
		})
	})

	return r
}
