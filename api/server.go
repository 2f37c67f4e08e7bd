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
  /api/drivers/*       Driver management, drafts, history
  /api/loads/*         Load management
  /api/rules           Deduction rule creation
  /api/advances        Cash advance issuance
  /api/settlements/*   Generation and history
  /api/fixtures/*      Demo fixture sets
  /api/reset           Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Driver routes
		r.Route("/drivers", func(r chi.Router) {
			r.Get("/", h.ListDrivers)
			r.Post("/", h.CreateDriver)
			r.Get("/{id}", h.GetDriver)
			r.Get("/{id}/loads", h.ListDriverLoads)
			r.Get("/{id}/rules", h.ListDriverRules)
			r.Get("/{id}/advances", h.ListDriverAdvances)
			r.Get("/{id}/draft", h.GetDriverDraft)
			r.Get("/{id}/settlements", h.ListDriverSettlements)
		})

		// Load routes
		r.Route("/loads", func(r chi.Router) {
			r.Post("/", h.CreateLoad)
			r.Get("/{id}", h.GetLoad)
		})

		// Rule and advance routes
		r.Post("/rules", h.CreateRule)
		r.Post("/advances", h.CreateAdvance)

		// Draft and settlement routes
		r.Get("/drafts", h.ListDrafts)
		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", h.ListSettlements)
			r.Get("/{id}", h.GetSettlement)
			r.Post("/generate", h.GenerateSettlement)
			r.Post("/batch", h.GenerateBatch)
		})

		// Fixture routes
		r.Route("/fixtures", func(r chi.Router) {
			r.Get("/", h.ListFixtures)
			r.Get("/current", h.GetCurrentFixture)
			r.Post("/load", h.LoadFixture)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
