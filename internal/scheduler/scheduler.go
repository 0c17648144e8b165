// Package scheduler runs the periodic maintenance loops: reconciliation
// fan-out per store, budget checks per tenant, approval expiry sweeps and
// audit pruning. All real work goes through the job engine so it inherits
// retries, idempotency and auditing; only the approval sweep runs inline.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/merchkit/opshub/internal/application/jobs"
	"github.com/merchkit/opshub/internal/domain"
)

// StoreLister feeds the reconciliation fan-out.
type StoreLister interface {
	ListActiveStores(ctx context.Context) ([]*domain.Store, error)
}

// TenantLister feeds the budget-check fan-out.
type TenantLister interface {
	ListBudgetTenants(ctx context.Context) ([]string, error)
}

// Enqueuer is the slice of the job engine the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (*domain.Job, error)
}

// Sweeper expires overdue approvals.
type Sweeper interface {
	ExpireSweep(ctx context.Context) (int, error)
}

// BudgetResetter advances budgets past their period boundary.
type BudgetResetter interface {
	ResetDue(ctx context.Context) (int, error)
}

// Options set the loop intervals. Zero values take defaults.
type Options struct {
	ReconcileInterval     time.Duration
	BudgetCheckInterval   time.Duration
	ApprovalSweepInterval time.Duration
	AuditPruneInterval    time.Duration
}

func (o *Options) withDefaults() {
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 6 * time.Hour
	}
	if o.BudgetCheckInterval <= 0 {
		o.BudgetCheckInterval = 15 * time.Minute
	}
	if o.ApprovalSweepInterval <= 0 {
		o.ApprovalSweepInterval = 5 * time.Minute
	}
	if o.AuditPruneInterval <= 0 {
		o.AuditPruneInterval = 24 * time.Hour
	}
}

// Scheduler drives the maintenance loops.
type Scheduler struct {
	stores   StoreLister
	tenants  TenantLister
	enqueuer Enqueuer
	sweeper  Sweeper
	resetter BudgetResetter
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// New wires a Scheduler.
func New(stores StoreLister, tenants TenantLister, enqueuer Enqueuer, sweeper Sweeper, resetter BudgetResetter, logger *slog.Logger, opts Options) *Scheduler {
	opts.withDefaults()
	return &Scheduler{
		stores:   stores,
		tenants:  tenants,
		enqueuer: enqueuer,
		sweeper:  sweeper,
		resetter: resetter,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Start runs all loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.InfoContext(ctx, "scheduler starting",
		"reconcile_interval", s.opts.ReconcileInterval,
		"budget_interval", s.opts.BudgetCheckInterval,
		"approval_sweep_interval", s.opts.ApprovalSweepInterval,
		"audit_prune_interval", s.opts.AuditPruneInterval)

	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context)
	}{
		{"reconcile_fanout", s.opts.ReconcileInterval, s.reconcileFanOut},
		{"budget_fanout", s.opts.BudgetCheckInterval, s.budgetFanOut},
		{"approval_sweep", s.opts.ApprovalSweepInterval, s.approvalSweep},
		{"audit_prune", s.opts.AuditPruneInterval, s.auditPrune},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, run func(ctx context.Context)) {
			defer wg.Done()
			s.tick(ctx, name, interval, run)
		}(loop.name, loop.interval, loop.run)
	}
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// reconcileFanOut enqueues one reconciliation job per active store. The
// idempotency key carries the interval window, so overlapping scheduler
// replicas collapse to one job per store per window.
func (s *Scheduler) reconcileFanOut(ctx context.Context) {
	stores, err := s.stores.ListActiveStores(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list stores for reconciliation", "error", err)
		return
	}
	window := s.window(s.opts.ReconcileInterval)
	for _, store := range stores {
		storeID := store.ID
		_, err := s.enqueuer.Enqueue(ctx, jobs.EnqueueRequest{
			TenantID:       store.TenantID,
			StoreID:        &storeID,
			Type:           domain.JobTypeReconciliation,
			Payload:        domain.Payload{"store_id": storeID},
			IdempotencyKey: fmt.Sprintf("sched-reconcile-%s-%d", storeID, window),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue reconciliation",
				"store_id", storeID, "error", err)
		}
	}
	s.logger.DebugContext(ctx, "reconciliation fan-out done", "stores", len(stores))
}

// budgetFanOut enqueues one budget_check job per tenant holding budgets, and
// runs the cross-tenant period reset safety net inline.
func (s *Scheduler) budgetFanOut(ctx context.Context) {
	tenants, err := s.tenants.ListBudgetTenants(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list tenants for budget check", "error", err)
		return
	}
	window := s.window(s.opts.BudgetCheckInterval)
	for _, tenantID := range tenants {
		_, err := s.enqueuer.Enqueue(ctx, jobs.EnqueueRequest{
			TenantID:       tenantID,
			Type:           domain.JobTypeBudgetCheck,
			Payload:        domain.Payload{},
			IdempotencyKey: fmt.Sprintf("sched-budget-%s-%d", tenantID, window),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue budget check",
				"tenant_id", tenantID, "error", err)
		}
	}

	if n, err := s.resetter.ResetDue(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to reset due budgets", "error", err)
	} else if n > 0 {
		s.logger.InfoContext(ctx, "reset due budgets", "count", n)
	}
}

func (s *Scheduler) approvalSweep(ctx context.Context) {
	if _, err := s.sweeper.ExpireSweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "approval expiry sweep failed", "error", err)
	}
}

// auditPrune enqueues the retention job under the system tenant so the prune
// itself leaves an audit trail.
func (s *Scheduler) auditPrune(ctx context.Context) {
	window := s.window(s.opts.AuditPruneInterval)
	_, err := s.enqueuer.Enqueue(ctx, jobs.EnqueueRequest{
		TenantID:       "system",
		Type:           domain.JobTypeAuditPrune,
		Payload:        domain.Payload{},
		IdempotencyKey: fmt.Sprintf("sched-audit-prune-%d", window),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue audit prune", "error", err)
	}
}

// window buckets now into interval-sized slots for idempotency keys.
func (s *Scheduler) window(interval time.Duration) int64 {
	return s.now().Unix() / int64(interval/time.Second)
}
