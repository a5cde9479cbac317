/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the tenant and admin frontends

ROUTE GROUPS:
  /api/leases/*         Leases, schedules, payments, summaries
  /api/installments/*   Metadata, verification, cancellation, receipts
  /api/admin/*          Admin operations (overdue sweep)
  /api/reports/*        Revenue report (JSON and XLSX)
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness and store reachability
  /                     Endpoint index

SECURITY NOTE:
  Authentication is done upstream. Authorization is enforced by the ledger
  from the X-Actor-ID / X-Actor-Role headers.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. origins lists
// the CORS origins allowed to call the API.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerActorID, headerActorRole},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Lease routes
		r.Route("/leases", func(r chi.Router) {
			r.Get("/", h.ListLeases)
			r.Post("/", h.CreateLease)
			r.Get("/{id}", h.GetLease)
			r.Post("/{id}/end", h.EndLease)
			r.Post("/{id}/schedule", h.GenerateSchedule)
			r.Get("/{id}/installments", h.GetSchedule)
			r.Get("/{id}/summary", h.GetSummary)
			r.Post("/{id}/installments/{iid}/pay", h.PayInstallment)
		})

		// Installment routes
		r.Route("/installments", func(r chi.Router) {
			r.Get("/{id}", h.GetInstallment)
			r.Put("/{id}/metadata", h.UpdatePaymentMeta)
			r.Post("/{id}/verification", h.SetVerification)
			r.Post("/{id}/reverse", h.ReverseVerification)
			r.Post("/{id}/cancel", h.CancelInstallment)
			r.Get("/{id}/receipt", h.GetReceipt)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/revenue", h.GetRevenueReport)
			r.Get("/revenue.xlsx", h.ExportRevenueReport)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Rent Ledger</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Rent Ledger API</h1>
<p>Send X-Actor-ID and X-Actor-Role (tenant, admin) with every request.</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/leases">/api/leases</a> - List leases</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
<li><a href="/healthz">/healthz</a> - Health check</li>
</ul>
</body>
</html>`))
	})

	return r
}
