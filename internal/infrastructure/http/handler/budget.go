package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/merchkit/opshub/internal/infrastructure/http/middleware"
	"github.com/merchkit/opshub/internal/infrastructure/http/response"
)

func (a *API) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := a.Budgets.List(r.Context(), mw.TenantFromContext(r.Context()))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	out := make([]budgetJSON, 0, len(budgets))
	for _, budget := range budgets {
		out = append(out, toBudgetJSON(budget))
	}
	response.OK(w, map[string]any{"budgets": out})
}

func (a *API) handleUnfreezeBudget(w http.ResponseWriter, r *http.Request) {
	err := a.Budgets.Unfreeze(r.Context(), mw.TenantFromContext(r.Context()), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"status": "unfrozen"})
}
