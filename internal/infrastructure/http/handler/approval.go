package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	mw "github.com/merchkit/opshub/internal/infrastructure/http/middleware"
	"github.com/merchkit/opshub/internal/infrastructure/http/response"
)

func (a *API) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	pending, err := a.Approvals.ListPending(r.Context(), mw.TenantFromContext(r.Context()), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	out := make([]approvalJSON, 0, len(pending))
	for _, approval := range pending {
		out = append(out, toApprovalJSON(approval))
	}
	response.OK(w, map[string]any{"approvals": out})
}

func (a *API) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approval, err := a.Approvals.Get(r.Context(), mw.TenantFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toApprovalJSON(approval))
}

type decideRequest struct {
	Decision string  `json:"decision"`
	Reason   *string `json:"reason"`
}

func (a *API) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.Decision != "approved" && req.Decision != "rejected" {
		response.BadRequest(w, "decision must be approved or rejected")
		return
	}
	decidedBy := "operator"
	if actor := actorFrom(r); actor != nil {
		decidedBy = *actor
	}

	approval, err := a.Approvals.Decide(r.Context(), mw.TenantFromContext(r.Context()), chi.URLParam(r, "id"), req.Decision, decidedBy, req.Reason)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toApprovalJSON(approval))
}
