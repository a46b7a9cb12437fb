/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the seller dashboard
  5. Metrics:    Prometheus request counters and latencies

ROUTE GROUPS:
  /api/leads/*          Lead intake and assignment
  /api/buyers/*         Buyers, wallets, campaigns
  /api/dashboard        Seller summary
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness and datastore check

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", SellerHeader},
	}))
	r.Use(Metrics)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Lead routes
		r.Route("/leads", func(r chi.Router) {
			r.Get("/", h.ListLeads)
			r.Post("/", h.CreateLead)
			r.Get("/{id}", h.GetLead)
			r.Patch("/{id}", h.UpdateLead)
			r.Post("/{id}/assign", h.AssignLead)
			r.Post("/{id}/auto-assign", h.AutoAssignLead)
			r.Get("/{id}/matches", h.GetMatches)
		})

		// Buyer routes
		r.Route("/buyers", func(r chi.Router) {
			r.Get("/", h.ListBuyers)
			r.Post("/", h.CreateBuyer)
			r.Get("/{id}", h.GetBuyer)
			r.Patch("/{id}", h.UpdateBuyer)
			r.Patch("/{id}/status", h.UpdateBuyerStatus)
			r.Post("/{id}/credit", h.CreditBuyer)
			r.Post("/{id}/campaigns", h.CreateCampaign)
			r.Get("/{id}/reconcile", h.ReconcileBuyer)
		})

		r.Get("/dashboard", h.GetDashboard)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
