package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
	"github.com/merchkit/opshub/internal/infrastructure/observability"
)

// reconcileFollowUpDelay is how long after a sync that reported drift the
// follow-up reconciliation job is scheduled.
const reconcileFollowUpDelay = 60 * time.Second

// Escalator raises an operator approval when a job exhausts its attempts.
type Escalator interface {
	EscalateJobFailure(ctx context.Context, job *domain.Job, reason string) error
}

// WorkerOptions tune the claim loop. Zero values take defaults.
type WorkerOptions struct {
	Concurrency       int
	ClaimBatchSize    int
	PollInterval      time.Duration
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	MaxBackoff        time.Duration
}

func (o *WorkerOptions) withDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.ClaimBatchSize <= 0 {
		o.ClaimBatchSize = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 5 * time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = time.Minute
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
}

// Worker claims and executes jobs. Multiple workers may run against the same
// database; the claim query and the per-transition ownership checks keep them
// from stepping on each other.
type Worker struct {
	id        string
	repo      Repository
	registry  *Registry
	engine    *Engine
	escalator Escalator
	auditor   *audit.Recorder
	notifier  Notifier
	logger    *slog.Logger
	opts      WorkerOptions
	now       func() time.Time
}

// NewWorker wires a Worker. id must be unique per process, e.g. hostname+pid.
func NewWorker(id string, repo Repository, registry *Registry, engine *Engine, escalator Escalator, auditor *audit.Recorder, notifier Notifier, logger *slog.Logger, opts WorkerOptions) *Worker {
	opts.withDefaults()
	return &Worker{
		id:        id,
		repo:      repo,
		registry:  registry,
		engine:    engine,
		escalator: escalator,
		auditor:   auditor,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Start runs the claim loop until ctx is cancelled. It freezes the handler
// registry, so all Register calls must happen first.
func (w *Worker) Start(ctx context.Context) error {
	w.registry.Freeze()
	w.logger.InfoContext(ctx, "job worker starting",
		"worker_id", w.id,
		"concurrency", w.opts.Concurrency,
		"job_types", w.registry.Types())

	sem := make(chan struct{}, w.opts.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.logger.InfoContext(ctx, "job worker stopped", "worker_id", w.id)
			return ctx.Err()
		default:
		}

		claimed, err := w.claimCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.ErrorContext(ctx, "failed to claim jobs", "error", err)
			w.sleep(ctx, w.opts.PollInterval)
			continue
		}
		if len(claimed) == 0 {
			w.sleep(ctx, w.opts.PollInterval)
			continue
		}

		for _, job := range claimed {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				continue
			}
			wg.Add(1)
			go func(job *domain.Job) {
				defer wg.Done()
				defer func() { <-sem }()
				w.process(ctx, job)
			}(job)
		}
	}
}

// claimCycle claims due work one tenant at a time. Every tenant with due
// jobs gets a claim per cycle, so a backlogged tenant cannot starve the rest.
func (w *Worker) claimCycle(ctx context.Context) ([]*domain.Job, error) {
	tenants, err := w.repo.ListDueJobTenants(ctx)
	if err != nil {
		return nil, err
	}

	var claimed []*domain.Job
	for _, tenant := range tenants {
		batch, err := w.repo.ClaimJobBatch(ctx, w.id, tenant, w.opts.ClaimBatchSize, w.opts.LeaseTTL)
		if err != nil {
			if len(claimed) > 0 {
				w.logger.ErrorContext(ctx, "failed to claim jobs for tenant",
					"tenant_id", tenant, "error", err)
				continue
			}
			return nil, err
		}
		claimed = append(claimed, batch...)
	}
	return claimed, nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) process(ctx context.Context, job *domain.Job) {
	logger := w.logger.With("job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts+1)

	if err := w.repo.MarkJobRunning(ctx, job.ID, w.id); err != nil {
		if errors.Is(err, domain.ErrJobOwnershipLost) {
			logger.DebugContext(ctx, "job reclaimed by another worker before start")
			return
		}
		logger.ErrorContext(ctx, "failed to mark job running", "error", err)
		return
	}
	w.notify(job, "running")

	// The job context ends before the lease does, leaving room to persist
	// the outcome while the claim is still ours.
	timeout := w.opts.LeaseTTL - 30*time.Second
	if timeout < time.Second {
		timeout = time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stopHeartbeat := w.startHeartbeat(ctx, job.ID, cancel, logger)
	started := w.now()
	result, err := w.execute(jobCtx, job)
	stopHeartbeat()

	observability.JobDuration.WithLabelValues(job.Type).Observe(w.now().Sub(started).Seconds())

	// Outcome persistence uses the parent context; the job context may
	// already be past its deadline.
	w.settle(ctx, job, result, err, logger)
}

// execute runs the handler with panic isolation.
func (w *Worker) execute(ctx context.Context, job *domain.Job) (result domain.Payload, err error) {
	handler, ok := w.registry.Handler(job.Type)
	if !ok {
		return nil, Permanent(fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) settle(ctx context.Context, job *domain.Job, result domain.Payload, execErr error, logger *slog.Logger) {
	switch {
	case execErr == nil:
		if err := w.repo.CompleteJob(ctx, job.ID, w.id, result); err != nil {
			w.logOwnership(ctx, logger, "complete", err)
			return
		}
		observability.JobsProcessed.WithLabelValues(job.Type, "completed").Inc()
		w.auditor.Record(ctx, audit.Entry{
			TenantID:     job.TenantID,
			Action:       "job_completed",
			ResourceType: "job",
			ResourceID:   &job.ID,
			NewValue:     result,
			Tags:         []string{domain.AuditTagAutomation},
		})
		w.notify(job, "completed")
		logger.InfoContext(ctx, "job completed")
		if wantsReconcile(result) {
			w.enqueueReconcileFollowUp(ctx, job, logger)
		}

	case isRateLimited(execErr):
		rl, _ := AsRateLimited(execErr)
		at := w.now().Add(rl.RetryAfter)
		// Attempts are not consumed: the job did not get a real try.
		if err := w.repo.RescheduleJob(ctx, job.ID, w.id, at, job.Attempts, execErr.Error()); err != nil {
			w.logOwnership(ctx, logger, "reschedule", err)
			return
		}
		observability.JobsProcessed.WithLabelValues(job.Type, "rate_limited").Inc()
		w.notify(job, "rescheduled")
		logger.WarnContext(ctx, "job rate limited by platform", "retry_at", at)

	case IsPermanent(execErr):
		w.failTerminally(ctx, job, job.Attempts+1, execErr, logger)

	default:
		attempts := job.Attempts + 1
		if attempts >= job.MaxAttempts {
			w.failTerminally(ctx, job, attempts, execErr, logger)
			return
		}
		delay := backoffDelay(attempts, w.opts.MaxBackoff)
		at := w.now().Add(delay)
		if err := w.repo.RescheduleJob(ctx, job.ID, w.id, at, attempts, execErr.Error()); err != nil {
			w.logOwnership(ctx, logger, "reschedule", err)
			return
		}
		observability.JobsProcessed.WithLabelValues(job.Type, "retried").Inc()
		w.notify(job, "rescheduled")
		logger.WarnContext(ctx, "job failed, will retry",
			"error", execErr, "retry_at", at, "attempts", attempts)
	}
}

func (w *Worker) failTerminally(ctx context.Context, job *domain.Job, attempts int, execErr error, logger *slog.Logger) {
	if err := w.repo.FailJob(ctx, job.ID, w.id, attempts, execErr.Error()); err != nil {
		w.logOwnership(ctx, logger, "fail", err)
		return
	}
	observability.JobsProcessed.WithLabelValues(job.Type, "failed").Inc()

	w.auditor.Record(ctx, audit.Entry{
		TenantID:     job.TenantID,
		Action:       "job_failed",
		ResourceType: "job",
		ResourceID:   &job.ID,
		Metadata:     domain.Payload{"error": execErr.Error(), "attempts": attempts},
		Tags:         []string{domain.AuditTagAutomation},
	})
	w.notify(job, "failed")
	logger.ErrorContext(ctx, "job failed terminally", "error", execErr, "attempts", attempts)

	if w.escalator != nil {
		if err := w.escalator.EscalateJobFailure(ctx, job, execErr.Error()); err != nil {
			logger.ErrorContext(ctx, "failed to escalate job failure", "error", err)
		}
	}
}

// wantsReconcile reports whether a handler result asks for a follow-up
// reconciliation pass of the job's store.
func wantsReconcile(result domain.Payload) bool {
	v, ok := result["reconciliation_needed"].(bool)
	return ok && v
}

func (w *Worker) enqueueReconcileFollowUp(ctx context.Context, job *domain.Job, logger *slog.Logger) {
	if job.StoreID == nil {
		return
	}

	at := w.now().Add(reconcileFollowUpDelay)
	_, err := w.engine.Enqueue(ctx, EnqueueRequest{
		TenantID:       job.TenantID,
		StoreID:        job.StoreID,
		Type:           domain.JobTypeReconciliation,
		Payload:        domain.Payload{"store_id": *job.StoreID, "triggered_by": job.ID},
		ScheduledAt:    &at,
		IdempotencyKey: "reconcile-after-" + job.ID,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to enqueue reconciliation follow-up", "error", err)
	}
}

// startHeartbeat extends the claim lease until the returned stop function is
// called. Losing ownership cancels the job context.
func (w *Worker) startHeartbeat(ctx context.Context, jobID string, cancelJob context.CancelFunc, logger *slog.Logger) func() {
	hbCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.repo.ExtendJobLease(hbCtx, jobID, w.id, w.opts.LeaseTTL); err != nil {
					if errors.Is(err, domain.ErrJobOwnershipLost) {
						logger.WarnContext(hbCtx, "job lease lost, aborting execution")
						cancelJob()
						return
					}
					logger.ErrorContext(hbCtx, "failed to extend job lease", "error", err)
				}
			}
		}
	}()

	return func() {
		stop()
		<-done
	}
}

func (w *Worker) logOwnership(ctx context.Context, logger *slog.Logger, op string, err error) {
	if errors.Is(err, domain.ErrJobOwnershipLost) {
		logger.DebugContext(ctx, "job ownership lost, dropping outcome", "op", op)
		return
	}
	logger.ErrorContext(ctx, "failed to persist job outcome", "op", op, "error", err)
}

func (w *Worker) notify(job *domain.Job, action string) {
	if w.notifier == nil {
		return
	}
	w.notifier.Publish(domain.ChangeEvent{
		TenantID:     job.TenantID,
		ResourceType: "job",
		ResourceID:   job.ID,
		Action:       action,
		OccurredAt:   w.now(),
	})
}

func isRateLimited(err error) bool {
	_, ok := AsRateLimited(err)
	return ok
}
