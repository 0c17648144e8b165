package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/merchkit/opshub/internal/domain"
)

const jobColumns = `id, tenant_id, store_id, type, payload, status, priority, attempts,
	max_attempts, scheduled_at, claimed_at, claimed_by, started_at, completed_at,
	last_error, result, idempotency_key, created_at`

type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(row jobScanner) (*domain.Job, error) {
	var (
		job             domain.Job
		payload, result []byte
	)
	err := row.Scan(
		&job.ID, &job.TenantID, &job.StoreID, &job.Type, &payload, &job.Status,
		&job.Priority, &job.Attempts, &job.MaxAttempts, &job.ScheduledAt,
		&job.ClaimedAt, &job.ClaimedBy, &job.StartedAt, &job.CompletedAt,
		&job.LastError, &result, &job.IdempotencyKey, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if job.Payload, err = unmarshalPayload(payload); err != nil {
		return nil, err
	}
	if job.Result, err = unmarshalPayload(result); err != nil {
		return nil, err
	}
	return &job, nil
}

// Insert persists a pending job; a duplicate idempotency key returns the
// existing row untouched.
func (s *Store) InsertJob(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	payload, err := marshalPayload(job.Payload)
	if err != nil {
		return nil, false, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO jobs (id, tenant_id, store_id, type, payload, status, priority,
			attempts, max_attempts, scheduled_at, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT ON CONSTRAINT jobs_idempotency_key DO NOTHING
		RETURNING `+jobColumns,
		job.ID, job.TenantID, job.StoreID, job.Type, payload, job.Status,
		job.Priority, job.Attempts, job.MaxAttempts, job.ScheduledAt,
		job.IdempotencyKey, job.CreatedAt,
	)

	created, err := scanJob(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert job: %w", mapIDError(err))
	}

	// Conflict path: hand back the job that owns the key.
	existing, err := s.findByIdempotencyKey(ctx, job.TenantID, job.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) findByIdempotencyKey(ctx context.Context, tenantID, key string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job by idempotency key: %w", err)
	}
	return job, nil
}

// Get returns a tenant's job.
func (s *Store) GetJob(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", mapIDError(err))
	}
	return job, nil
}

// ListDueJobTenants returns the tenants with at least one due job, so that
// the worker can claim per tenant instead of letting one tenant's burst
// monopolize the batch.
func (s *Store) ListDueJobTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT tenant_id FROM jobs
		WHERE (status = 'pending' AND scheduled_at <= now())
		   OR (status IN ('claimed', 'running') AND lease_expires_at < now())
		ORDER BY tenant_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due job tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("failed to scan due tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read due tenants: %w", err)
	}
	return tenants, nil
}

// ClaimBatch atomically claims one tenant's due jobs in priority order. The
// lease-expiry arm re-claims work whose holder died. SKIP LOCKED keeps
// concurrent workers from contending; a serialization failure is retried once.
func (s *Store) ClaimJobBatch(ctx context.Context, workerID, tenantID string, limit int, leaseTTL time.Duration) ([]*domain.Job, error) {
	claimed, err := s.claimBatchOnce(ctx, workerID, tenantID, limit, leaseTTL)
	if err != nil && isSerializationFailure(err) {
		claimed, err = s.claimBatchOnce(ctx, workerID, tenantID, limit, leaseTTL)
	}
	return claimed, err
}

func (s *Store) claimBatchOnce(ctx context.Context, workerID, tenantID string, limit int, leaseTTL time.Duration) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE jobs
		SET status = 'claimed', claimed_by = $1, claimed_at = now(),
			lease_expires_at = now() + make_interval(secs => $2),
			started_at = NULL
		WHERE id IN (
			SELECT id FROM jobs
			WHERE tenant_id = $3
			  AND ((status = 'pending' AND scheduled_at <= now())
			   OR (status IN ('claimed', 'running') AND lease_expires_at < now()))
			ORDER BY priority, scheduled_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		workerID, leaseTTL.Seconds(), tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var claimed []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		claimed = append(claimed, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed jobs: %w", err)
	}
	return claimed, nil
}

// MarkRunning transitions claimed to running under the ownership check.
func (s *Store) MarkJobRunning(ctx context.Context, id, workerID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = now()
		WHERE id = $1 AND claimed_by = $2 AND status = 'claimed'`,
		id, workerID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

// ExtendLease pushes out the claim expiry for a job this worker still owns.
func (s *Store) ExtendJobLease(ctx context.Context, id, workerID string, leaseTTL time.Duration) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET lease_expires_at = now() + make_interval(secs => $3)
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'running')`,
		id, workerID, leaseTTL.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

// Complete finishes a running job this worker owns.
func (s *Store) CompleteJob(ctx context.Context, id, workerID string, result domain.Payload) error {
	encoded, err := marshalPayload(result)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = now(), result = $3,
			last_error = NULL, lease_expires_at = NULL
		WHERE id = $1 AND claimed_by = $2 AND status = 'running'`,
		id, workerID, encoded,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

// Fail terminally fails a running job this worker owns.
func (s *Store) FailJob(ctx context.Context, id, workerID string, attempts int, lastError string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', completed_at = now(), attempts = $3,
			last_error = $4, lease_expires_at = NULL
		WHERE id = $1 AND claimed_by = $2 AND status = 'running'`,
		id, workerID, attempts, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

// Reschedule returns an owned job to pending for a later attempt.
func (s *Store) RescheduleJob(ctx context.Context, id, workerID string, at time.Time, attempts int, lastError string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', scheduled_at = $3, attempts = $4, last_error = $5,
			claimed_by = NULL, claimed_at = NULL, started_at = NULL,
			lease_expires_at = NULL
		WHERE id = $1 AND claimed_by = $2 AND status IN ('claimed', 'running')`,
		id, workerID, at, attempts, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobOwnershipLost
	}
	return nil
}

// Cancel transitions pending or claimed to cancelled.
func (s *Store) CancelJob(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'cancelled', completed_at = now(),
			claimed_by = NULL, lease_expires_at = NULL
		WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'claimed')
		RETURNING `+jobColumns,
		id, tenantID,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel job: %w", mapIDError(err))
	}

	if _, getErr := s.GetJob(ctx, tenantID, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrJobNotCancellable
}

// ResetForRetry re-opens a terminal job with a fresh attempt budget.
func (s *Store) ResetJobForRetry(ctx context.Context, tenantID, id string, scheduledAt time.Time) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'pending', attempts = 0, last_error = NULL, scheduled_at = $3,
			claimed_by = NULL, claimed_at = NULL, started_at = NULL,
			completed_at = NULL, lease_expires_at = NULL, result = NULL
		WHERE id = $1 AND tenant_id = $2 AND status IN ('failed', 'cancelled')
		RETURNING `+jobColumns,
		id, tenantID, scheduledAt,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to reset job: %w", mapIDError(err))
	}

	if _, getErr := s.GetJob(ctx, tenantID, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrJobNotRetryable
}
