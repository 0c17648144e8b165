package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merchkit/opshub/internal/application/jobs"
	mw "github.com/merchkit/opshub/internal/infrastructure/http/middleware"
	"github.com/merchkit/opshub/internal/infrastructure/http/response"
)

type enqueueJobRequest struct {
	Type           string         `json:"type"`
	StoreID        *string        `json:"store_id"`
	Payload        map[string]any `json:"payload"`
	Priority       *int           `json:"priority"`
	MaxAttempts    *int           `json:"max_attempts"`
	ScheduledAt    *time.Time     `json:"scheduled_at"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func (a *API) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	actor := actorFrom(r)
	job, err := a.Jobs.Enqueue(r.Context(), jobs.EnqueueRequest{
		TenantID:       mw.TenantFromContext(r.Context()),
		StoreID:        req.StoreID,
		Type:           req.Type,
		Payload:        req.Payload,
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		ScheduledAt:    req.ScheduledAt,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        actor,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, toJobJSON(job))
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), mw.TenantFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toJobJSON(job))
}

func (a *API) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Retry(r.Context(), mw.TenantFromContext(r.Context()), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toJobJSON(job))
}

func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Cancel(r.Context(), mw.TenantFromContext(r.Context()), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toJobJSON(job))
}

// actorFrom reads the optional operator identity header.
func actorFrom(r *http.Request) *string {
	if actor := r.Header.Get("X-Actor-ID"); actor != "" {
		return &actor
	}
	return nil
}
