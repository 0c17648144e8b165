package jobs

import (
	"context"
	"time"

	"github.com/merchkit/opshub/internal/domain"
)

// Repository is the persistence surface of the job engine. The postgres
// implementation backs every method with single-statement check-and-set
// queries so that concurrent workers never double-process a job.
type Repository interface {
	// Insert persists a new pending job. If a job with the same
	// (tenant_id, idempotency_key) already exists the existing job is
	// returned with created=false and nothing is written.
	InsertJob(ctx context.Context, job *domain.Job) (existing *domain.Job, created bool, err error)

	// Get returns a job scoped to a tenant.
	GetJob(ctx context.Context, tenantID, id string) (*domain.Job, error)

	// ListDueJobTenants returns the tenants that currently have at least
	// one due job. A job is due when it is pending and scheduled, or when
	// its claim lease has expired.
	ListDueJobTenants(ctx context.Context) ([]string, error)

	// ClaimBatch atomically claims up to limit due jobs of one tenant for
	// workerID, ordered by priority then scheduled time. Scoping the claim
	// to a tenant keeps one tenant's burst from starving the others.
	ClaimJobBatch(ctx context.Context, workerID, tenantID string, limit int, leaseTTL time.Duration) ([]*domain.Job, error)

	// MarkRunning transitions a claimed job to running. Returns
	// domain.ErrJobOwnershipLost if workerID no longer holds the claim.
	MarkJobRunning(ctx context.Context, id, workerID string) error

	// ExtendLease pushes out the claim expiry for a job this worker owns.
	ExtendJobLease(ctx context.Context, id, workerID string, leaseTTL time.Duration) error

	// Complete finishes a job this worker owns with a result payload.
	CompleteJob(ctx context.Context, id, workerID string, result domain.Payload) error

	// Fail terminally fails a job this worker owns.
	FailJob(ctx context.Context, id, workerID string, attempts int, lastError string) error

	// Reschedule returns a job this worker owns to pending for a later
	// attempt. The attempts counter is set, not incremented, so that
	// rate-limited reschedules can leave it untouched.
	RescheduleJob(ctx context.Context, id, workerID string, at time.Time, attempts int, lastError string) error

	// Cancel transitions a pending or claimed job to cancelled. Returns
	// domain.ErrJobNotCancellable for any other state.
	CancelJob(ctx context.Context, tenantID, id string) (*domain.Job, error)

	// ResetForRetry returns a terminally failed or cancelled job to pending
	// with a fresh attempt budget. Returns domain.ErrJobNotRetryable for
	// non-terminal jobs.
	ResetJobForRetry(ctx context.Context, tenantID, id string, scheduledAt time.Time) (*domain.Job, error)
}
