package domain

import "errors"

// Sentinel errors shared across the application and infrastructure layers.
// Repositories wrap these with context; handlers and HTTP mappers match on
// them with errors.Is.
var (
	// ErrNotFound is the generic absent-resource error.
	ErrNotFound = errors.New("resource not found")

	ErrJobNotFound      = errors.New("job not found")
	ErrStoreNotFound    = errors.New("store not found")
	ErrApprovalNotFound = errors.New("approval not found")
	ErrBudgetNotFound   = errors.New("budget not found")
	ErrListingNotFound  = errors.New("listing not found")
	ErrEventNotFound    = errors.New("webhook event not found")

	// ErrInvalidID indicates a malformed entity identifier.
	ErrInvalidID = errors.New("invalid ID format")

	// ErrTenantRequired indicates a tenant-scoped operation was attempted
	// without a tenant.
	ErrTenantRequired = errors.New("tenant is required")

	// Enqueue validation failures.
	ErrInvalidPriority        = errors.New("priority must be between 0 and 100")
	ErrInvalidMaxAttempts     = errors.New("max attempts must be at least 1")
	ErrScheduledInPast        = errors.New("scheduled_at is more than 60s in the past")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrUnknownJobType         = errors.New("no handler registered for job type")

	// ErrJobOwnershipLost indicates a check-and-set on (status, claimed_by)
	// matched zero rows: another worker reclaimed the job after lease expiry.
	// Callers treat this as a silent no-op.
	ErrJobOwnershipLost = errors.New("job ownership lost")

	// ErrJobNotCancellable indicates the job is not in pending or claimed.
	ErrJobNotCancellable = errors.New("job is not cancellable")

	// ErrJobNotRetryable indicates operator retry was requested for a job
	// that is not in a terminal failed/cancelled state.
	ErrJobNotRetryable = errors.New("job is not retryable")

	// ErrVersionConflict indicates an optimistic concurrency check failed.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicateEvent indicates a webhook replay: an event with the same
	// (store, external_id, event_type) already exists.
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	// ErrApprovalDecided indicates a decision was attempted on an approval
	// that already left the pending state.
	ErrApprovalDecided = errors.New("approval already decided")

	// ErrBudgetFrozen indicates an action was blocked by a tripped budget
	// circuit breaker.
	ErrBudgetFrozen = errors.New("budget is frozen")

	// ErrUnauthorized covers bad signatures and missing or expired credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCredentialsMissing indicates a store has no usable credential blob.
	ErrCredentialsMissing = errors.New("store credentials missing")

	// ErrAuditImmutable is returned by any attempt to mutate an audit entry.
	ErrAuditImmutable = errors.New("audit entries are append-only")
)
