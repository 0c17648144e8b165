package middleware

import (
	"context"
	"net/http"

	"github.com/merchkit/opshub/internal/infrastructure/http/response"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// TenantHeader is the header the control API reads the caller's tenant from.
// Tenant resolution from real operator auth happens upstream of this service.
const TenantHeader = "X-Tenant-ID"

// RequireTenant rejects requests without a tenant header and stores the
// tenant in the request context for handlers.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantHeader)
		if tenantID == "" {
			response.Unauthorized(w, "missing "+TenantHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantFromContext returns the tenant set by RequireTenant, or "".
func TenantFromContext(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantKey).(string)
	return tenantID
}
