package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/merchkit/opshub/internal/application/audit"
	mw "github.com/merchkit/opshub/internal/infrastructure/http/middleware"
	"github.com/merchkit/opshub/internal/infrastructure/http/response"
)

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		TenantID:     mw.TenantFromContext(r.Context()),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Action:       q.Get("action"),
		Tag:          q.Get("tag"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	var parseErr error
	if filter.Since, parseErr = parseTimeParam(q.Get("since")); parseErr != nil {
		response.BadRequest(w, "since must be RFC 3339")
		return
	}
	if filter.Until, parseErr = parseTimeParam(q.Get("until")); parseErr != nil {
		response.BadRequest(w, "until must be RFC 3339")
		return
	}

	entries, err := a.Auditor.List(r.Context(), filter)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	out := make([]auditJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toAuditJSON(entry))
	}
	response.OK(w, map[string]any{"entries": out})
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
