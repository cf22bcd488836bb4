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
  4. CORS:       Cross-origin requests for operational dashboards

ROUTE GROUPS:
  /api/products/*       Product configuration
  /api/loans/*          Loan lifecycle, transactions, schedules
  /api/cob/*            Close-of-business operations

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
		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
		})

		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Post("/", h.CreateLoan)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetLoan)
				r.Post("/approve", h.ApproveLoan)
				r.Post("/disburse", h.Disburse)
				r.Post("/undo-disbursement", h.UndoDisbursement)
				r.Post("/charges", h.AddCharge)
				r.Post("/reschedule", h.Reschedule)
				r.Get("/schedule", h.GetSchedule)
				r.Get("/delinquency", h.GetDelinquency)
				r.Post("/cob/{step}", h.RunCOBStep)

				r.Route("/transactions", func(r chi.Router) {
					r.Get("/", h.ListTransactions)
					r.Post("/", h.ApplyTransaction)
					r.Post("/{txId}/reverse", h.ReverseTransaction)
					r.Post("/{txId}/chargeback", h.Chargeback)
				})
			})
		})

		// COB routes
		r.Route("/cob", func(r chi.Router) {
			r.Post("/run", h.RunCOB)
		})
	})

	return r
}
