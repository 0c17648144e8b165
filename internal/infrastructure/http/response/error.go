package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/merchkit/opshub/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BadRequest sends a 400 Bad Request error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "INVALID_REQUEST", message, http.StatusBadRequest)
}

// NotFound sends a 404 Not Found error.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// Unauthorized sends a 401 Unauthorized error.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, "UNAUTHORIZED", message, http.StatusUnauthorized)
}

// Conflict sends a 409 Conflict error.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, "CONFLICT", message, http.StatusConflict)
}

// TooManyRequests sends a 429 with a Retry-After header.
func TooManyRequests(w http.ResponseWriter, retryAfter string) {
	if retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	Error(w, "RATE_LIMITED", "rate limit exceeded", http.StatusTooManyRequests)
}

// InternalError sends a 500. The real error is logged server-side only.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	Error(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// Error sends a generic error response.
func Error(w http.ResponseWriter, code, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromDomainError maps domain errors to HTTP responses.
func FromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	// Validation errors (400)
	case errors.Is(err, domain.ErrInvalidID):
		BadRequest(w, "invalid ID format")
	case errors.Is(err, domain.ErrTenantRequired):
		BadRequest(w, "tenant is required")
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		BadRequest(w, "idempotency_key is required")
	case errors.Is(err, domain.ErrInvalidPriority):
		BadRequest(w, "priority must be between 0 and 100")
	case errors.Is(err, domain.ErrInvalidMaxAttempts):
		BadRequest(w, "max_attempts must be at least 1")
	case errors.Is(err, domain.ErrScheduledInPast):
		BadRequest(w, "scheduled_at is in the past")
	case errors.Is(err, domain.ErrUnknownJobType):
		BadRequest(w, "unknown job type")

	// Not found errors (404)
	case errors.Is(err, domain.ErrJobNotFound):
		NotFound(w, "job")
	case errors.Is(err, domain.ErrStoreNotFound):
		NotFound(w, "store")
	case errors.Is(err, domain.ErrApprovalNotFound):
		NotFound(w, "approval")
	case errors.Is(err, domain.ErrBudgetNotFound):
		NotFound(w, "budget")
	case errors.Is(err, domain.ErrListingNotFound):
		NotFound(w, "listing")
	case errors.Is(err, domain.ErrEventNotFound):
		NotFound(w, "webhook event")
	case errors.Is(err, domain.ErrNotFound):
		NotFound(w, "resource")

	// Auth errors (401)
	case errors.Is(err, domain.ErrUnauthorized):
		Unauthorized(w, "unauthorized")

	// State-machine conflicts (409)
	case errors.Is(err, domain.ErrJobNotCancellable),
		errors.Is(err, domain.ErrJobNotRetryable),
		errors.Is(err, domain.ErrApprovalDecided),
		errors.Is(err, domain.ErrBudgetFrozen),
		errors.Is(err, domain.ErrVersionConflict):
		Conflict(w, err.Error())

	// Unknown errors (500), logged server-side only
	default:
		InternalError(w, r, err)
	}
}
