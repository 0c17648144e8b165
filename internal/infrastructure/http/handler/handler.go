// Package handler adapts HTTP requests to application service calls. The
// control API is deliberately small: job submission and control, approval
// decisions, budget inspection, audit queries, webhook intake and the change
// stream.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merchkit/opshub/internal/application/approvals"
	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/application/budgets"
	"github.com/merchkit/opshub/internal/application/jobs"
	"github.com/merchkit/opshub/internal/application/webhookin"
	mw "github.com/merchkit/opshub/internal/infrastructure/http/middleware"
	"github.com/merchkit/opshub/internal/infrastructure/stream"
)

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API bundles the application services the HTTP surface exposes.
type API struct {
	Jobs      *jobs.Engine
	Ingestor  *webhookin.Ingestor
	Approvals *approvals.Service
	Budgets   *budgets.Service
	Auditor   *audit.Recorder
	Stream    *stream.Hub
	Pinger    Pinger
	Logger    *slog.Logger
}

// Routes builds the API router. Webhook intake carries its own rate limit;
// everything else requires a tenant header.
func (a *API) Routes(intakeRPS float64, intakeBurst int) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(mw.IntakeLimit(intakeRPS, intakeBurst))
		r.Post("/{platform}/{storeID}", a.handleWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RequireTenant)

		r.Post("/jobs", a.handleEnqueueJob)
		r.Get("/jobs/{id}", a.handleGetJob)
		r.Post("/jobs/{id}/retry", a.handleRetryJob)
		r.Post("/jobs/{id}/cancel", a.handleCancelJob)

		r.Get("/approvals", a.handleListApprovals)
		r.Get("/approvals/{id}", a.handleGetApproval)
		r.Post("/approvals/{id}/decide", a.handleDecideApproval)

		r.Get("/budgets", a.handleListBudgets)
		r.Post("/budgets/{id}/unfreeze", a.handleUnfreezeBudget)

		r.Get("/audit", a.handleListAudit)

		r.Get("/stream", a.handleStream)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.Pinger != nil {
		if err := a.Pinger.Ping(r.Context()); err != nil {
			a.Logger.ErrorContext(r.Context(), "health check failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	tenantID := mw.TenantFromContext(r.Context())
	a.Stream.Serve(r.Context(), w, r, tenantID)
}
