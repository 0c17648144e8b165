// Package jobs implements the durable job engine: idempotent enqueue, lease
// based claiming, retry with exponential backoff and operator-facing retry
// and cancel operations. All job state lives in Postgres; workers hold no
// state a crash could lose.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
)

// enqueueGrace is how far in the past scheduled_at may lie before the
// request is rejected as stale.
const enqueueGrace = 60 * time.Second

// Notifier pushes change events onto the per-tenant stream. Implementations
// must not block.
type Notifier interface {
	Publish(event domain.ChangeEvent)
}

// EnqueueRequest describes a job to enqueue. Nil optionals take defaults.
type EnqueueRequest struct {
	TenantID       string
	StoreID        *string
	Type           string
	Payload        domain.Payload
	Priority       *int
	MaxAttempts    *int
	ScheduledAt    *time.Time
	IdempotencyKey string
	ActorID        *string
}

// Engine is the enqueue and operator control surface of the job system.
type Engine struct {
	repo     Repository
	registry *Registry
	auditor  *audit.Recorder
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine wires an Engine.
func NewEngine(repo Repository, registry *Registry, auditor *audit.Recorder, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		registry: registry,
		auditor:  auditor,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue validates and persists a job. Requests carrying an idempotency key
// already seen by this tenant return the original job unchanged.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	now := e.now()

	if req.TenantID == "" {
		return nil, domain.ErrTenantRequired
	}
	if req.IdempotencyKey == "" {
		return nil, domain.ErrIdempotencyKeyRequired
	}
	if _, ok := e.registry.Handler(req.Type); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownJobType, req.Type)
	}

	priority := domain.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < 0 || priority > 100 {
		return nil, domain.ErrInvalidPriority
	}

	maxAttempts := domain.DefaultMaxAttempts
	if req.MaxAttempts != nil {
		maxAttempts = *req.MaxAttempts
	}
	if maxAttempts < 1 {
		return nil, domain.ErrInvalidMaxAttempts
	}

	scheduledAt := now
	if req.ScheduledAt != nil {
		scheduledAt = *req.ScheduledAt
	}
	if scheduledAt.Before(now.Add(-enqueueGrace)) {
		return nil, domain.ErrScheduledInPast
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job ID: %w", err)
	}

	job := &domain.Job{
		ID:             id.String(),
		TenantID:       req.TenantID,
		StoreID:        req.StoreID,
		Type:           req.Type,
		Payload:        req.Payload,
		Status:         domain.JobStatusPending,
		Priority:       priority,
		Attempts:       0,
		MaxAttempts:    maxAttempts,
		ScheduledAt:    scheduledAt,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}

	stored, created, err := e.repo.InsertJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	if !created {
		e.logger.DebugContext(ctx, "enqueue deduplicated by idempotency key",
			"job_id", stored.ID, "job_type", stored.Type)
		return stored, nil
	}

	e.auditor.Record(ctx, audit.Entry{
		TenantID:     stored.TenantID,
		ActorID:      req.ActorID,
		Action:       "job_enqueued",
		ResourceType: "job",
		ResourceID:   &stored.ID,
		NewValue:     domain.Payload{"type": stored.Type, "priority": stored.Priority},
		Tags:         []string{domain.AuditTagAutomation},
	})
	e.notify(stored.TenantID, stored.ID, "created")

	e.logger.InfoContext(ctx, "job enqueued",
		"job_id", stored.ID, "job_type", stored.Type, "priority", stored.Priority)
	return stored, nil
}

// Get returns a tenant's job.
func (e *Engine) Get(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}
	return e.repo.GetJob(ctx, tenantID, id)
}

// Retry returns a terminally failed or cancelled job to pending with a fresh
// attempt budget. It is the operator-facing recovery path.
func (e *Engine) Retry(ctx context.Context, tenantID, id string, actorID *string) (*domain.Job, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}

	job, err := e.repo.ResetJobForRetry(ctx, tenantID, id, e.now())
	if err != nil {
		return nil, err
	}

	e.auditor.Record(ctx, audit.Entry{
		TenantID:     tenantID,
		ActorID:      actorID,
		Action:       "job_retried",
		ResourceType: "job",
		ResourceID:   &job.ID,
		Tags:         []string{domain.AuditTagDataModification},
	})
	e.notify(tenantID, job.ID, "retried")

	e.logger.InfoContext(ctx, "job reset for retry", "job_id", job.ID, "job_type", job.Type)
	return job, nil
}

// Cancel transitions a pending or claimed job to cancelled. Running jobs
// cannot be cancelled; their handler already holds side effects in flight.
func (e *Engine) Cancel(ctx context.Context, tenantID, id string, actorID *string) (*domain.Job, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}

	job, err := e.repo.CancelJob(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	e.auditor.Record(ctx, audit.Entry{
		TenantID:     tenantID,
		ActorID:      actorID,
		Action:       "job_cancelled",
		ResourceType: "job",
		ResourceID:   &job.ID,
		Tags:         []string{domain.AuditTagDataModification},
	})
	e.notify(tenantID, job.ID, "cancelled")

	e.logger.InfoContext(ctx, "job cancelled", "job_id", job.ID, "job_type", job.Type)
	return job, nil
}

func (e *Engine) notify(tenantID, jobID, action string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(domain.ChangeEvent{
		TenantID:     tenantID,
		ResourceType: "job",
		ResourceID:   jobID,
		Action:       action,
		OccurredAt:   e.now(),
	})
}
