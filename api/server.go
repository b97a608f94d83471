/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/organizations/*   Organizations, balances, ledger views
  /api/transactions/*    Transfers, issuances, admin adjustments
  /api/reports/*         Report chains, workflow events, line items
  /api/periods/*         Compliance periods and fuel options

SECURITY NOTE:
  Identity arrives in gateway headers (X-User-Id etc.); there is no
  authentication middleware here. Role checks live in the engines.

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
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-User-Name", "X-Org-Id", "X-Roles"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Organization routes
		r.Route("/organizations", func(r chi.Router) {
			r.Get("/", h.ListOrganizations)
			r.Post("/", h.CreateOrganization)
			r.Get("/{id}", h.GetOrganization)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/reports", h.ListReportsByOrg)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/transfers", h.RecordTransfer)
			r.Post("/initiative-agreements", h.RecordInitiativeAgreement)
			r.Post("/admin-adjustments", h.RecordAdminAdjustment)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Post("/", h.CreateReport)
			r.Get("/counts", h.GetStatusCounts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetReport)
				r.Delete("/", h.DeleteReport)
				r.Post("/status", h.TransitionReport)
				r.Post("/supplemental", h.CreateSupplemental)
				r.Post("/reassessment", h.CreateReassessment)
				r.Post("/adjustment", h.CreateAnalystAdjustment)
				r.Post("/assign", h.AssignAnalyst)
				r.Get("/summary", h.GetSummary)
				r.Get("/history", h.GetHistory)
				r.Get("/chain", h.GetChain)
				r.Put("/line-items", h.SaveLineItem)
				r.Get("/line-items", h.GetLineItems)
				r.Delete("/line-items/{group}", h.DeleteLineItem)
				r.Get("/changelog", h.GetChangelog)
			})
		})

		// Reference data routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Get("/{id}/fuel-options", h.GetFuelOptions)
		})
	})

	return r
}
