/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontends

SECURITY NOTE:
  No authentication middleware. The engine sits behind the platform
  gateway, which owns authn/authz.

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

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/entitlements", h.ListActiveEntitlements)
			r.Get("/entitlements/fulfillable", h.ListFulfillableEntitlements)
			r.Post("/redemptions", h.Redeem)
		})

		r.Route("/entitlements", func(r chi.Router) {
			r.Post("/", h.CreateEntitlement)
			r.Get("/{uuid}", h.GetSummary)
			r.Get("/{uuid}/refund", h.GetRefundQuote)
			r.Get("/{uuid}/support", h.ListSupportAnnotations)
			r.Post("/{uuid}/support", h.CreateSupportAnnotation)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
		})

		r.Get("/support/actions", h.ListSupportActions)
	})

	return r
}
