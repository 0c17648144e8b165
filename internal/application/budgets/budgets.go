// Package budgets implements quota circuit breakers. Usage accumulates per
// period; reaching the limit freezes the budget exactly once per breach and
// raises a budget_override approval. Resets at period boundaries clear usage
// but never unfreeze, that stays an explicit operator action.
package budgets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/merchkit/opshub/internal/application/approvals"
	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
	"github.com/merchkit/opshub/internal/infrastructure/observability"
)

// OverrideTTL is the expiry of budget_override approvals.
const OverrideTTL = 24 * time.Hour

// Repository is the persistence surface for budgets.
type Repository interface {
	GetBudget(ctx context.Context, tenantID, id string) (*domain.Budget, error)
	FindBudget(ctx context.Context, tenantID, budgetType string, storeID *string) (*domain.Budget, error)
	ListBudgetsByTenant(ctx context.Context, tenantID string) ([]*domain.Budget, error)
	ListBudgetsDueForReset(ctx context.Context, now time.Time) ([]*domain.Budget, error)

	// Increment atomically adds amount to current and returns the updated
	// budget.
	IncrementBudget(ctx context.Context, id string, amount float64) (*domain.Budget, error)

	// Freeze flips is_frozen from false to true. ok=false means the budget
	// was already frozen; only the winner escalates.
	FreezeBudget(ctx context.Context, id string) (ok bool, err error)

	UnfreezeBudget(ctx context.Context, tenantID, id string) error

	// Reset clears usage and advances the period boundary, leaving
	// is_frozen untouched.
	ResetBudget(ctx context.Context, id string, resetAt time.Time) error
}

// ApprovalRequester raises operator approvals. Satisfied by the approvals
// service.
type ApprovalRequester interface {
	Request(ctx context.Context, req approvals.Request) (*domain.Approval, error)
}

// Notifier pushes change events onto the per-tenant stream.
type Notifier interface {
	Publish(event domain.ChangeEvent)
}

// Service owns budget accounting and the freeze state machine.
type Service struct {
	repo     Repository
	approver ApprovalRequester
	auditor  *audit.Recorder
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires a Service.
func NewService(repo Repository, approver ApprovalRequester, auditor *audit.Recorder, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		approver: approver,
		auditor:  auditor,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Consume records usage against a budget. Frozen budgets reject with
// domain.ErrBudgetFrozen before any increment. Callers check before
// expensive actions; readers may see slightly stale usage, the breaker
// errs safe.
func (s *Service) Consume(ctx context.Context, tenantID, budgetType string, storeID *string, amount float64) (*domain.Budget, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}

	budget, err := s.repo.FindBudget(ctx, tenantID, budgetType, storeID)
	if err != nil {
		return nil, err
	}
	if budget.IsFrozen {
		return nil, fmt.Errorf("%w: %s", domain.ErrBudgetFrozen, budgetType)
	}

	updated, err := s.repo.IncrementBudget(ctx, budget.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to record budget usage: %w", err)
	}
	if updated.Breached() {
		s.freeze(ctx, updated)
	}
	return updated, nil
}

// CheckTenant sweeps one tenant's budgets: freezes breached ones and resets
// those past their period boundary. Runs as the budget_check job.
func (s *Service) CheckTenant(ctx context.Context, tenantID string) error {
	budgets, err := s.repo.ListBudgetsByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list budgets: %w", err)
	}

	now := s.now()
	for _, b := range budgets {
		if b.Breached() && !b.IsFrozen {
			s.freeze(ctx, b)
		}
		if !b.ResetAt.After(now) {
			s.reset(ctx, b, now)
		}
	}
	return nil
}

// ResetDue advances every budget past its period boundary, across tenants.
// Run by the scheduler as a safety net behind per-tenant checks.
func (s *Service) ResetDue(ctx context.Context) (int, error) {
	due, err := s.repo.ListBudgetsDueForReset(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list due budgets: %w", err)
	}
	for _, b := range due {
		s.reset(ctx, b, s.now())
	}
	return len(due), nil
}

// List returns a tenant's budgets.
func (s *Service) List(ctx context.Context, tenantID string) ([]*domain.Budget, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}
	return s.repo.ListBudgetsByTenant(ctx, tenantID)
}

// Unfreeze is the explicit operator action that re-opens a frozen budget.
func (s *Service) Unfreeze(ctx context.Context, tenantID, id string, actorID *string) error {
	if tenantID == "" {
		return domain.ErrTenantRequired
	}
	if err := s.repo.UnfreezeBudget(ctx, tenantID, id); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Entry{
		TenantID:     tenantID,
		ActorID:      actorID,
		Action:       "budget_unfrozen",
		ResourceType: "budget",
		ResourceID:   &id,
		Tags:         []string{domain.AuditTagDataModification, domain.AuditTagAccessControl},
	})
	s.notify(tenantID, id, "unfrozen")
	s.logger.InfoContext(ctx, "budget unfrozen", "budget_id", id)
	return nil
}

// freeze trips the breaker. The repository's check-and-set guarantees one
// winner, so exactly one approval is raised per breach epoch.
func (s *Service) freeze(ctx context.Context, b *domain.Budget) {
	won, err := s.repo.FreezeBudget(ctx, b.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to freeze budget", "budget_id", b.ID, "error", err)
		return
	}
	if !won {
		return
	}
	observability.BudgetFreezes.Inc()

	_, err = s.approver.Request(ctx, approvals.Request{
		TenantID:     b.TenantID,
		ResourceType: "budget",
		ResourceID:   b.ID,
		Action:       domain.ApprovalActionBudgetOverride,
		Payload: domain.Payload{
			"budget_name": b.Type,
			"current":     b.Current,
			"limit":       b.Limit,
		},
		TTL: OverrideTTL,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to request budget override approval",
			"budget_id", b.ID, "error", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		TenantID:     b.TenantID,
		Action:       "budget_frozen",
		ResourceType: "budget",
		ResourceID:   &b.ID,
		Metadata:     domain.Payload{"current": b.Current, "limit": b.Limit, "type": b.Type},
		Tags:         []string{domain.AuditTagRateLimiting, domain.AuditTagAutomation},
	})
	s.notify(b.TenantID, b.ID, "frozen")
	s.logger.WarnContext(ctx, "budget frozen",
		"budget_id", b.ID, "type", b.Type, "current", b.Current, "limit", b.Limit)
}

func (s *Service) reset(ctx context.Context, b *domain.Budget, now time.Time) {
	next := b.NextReset(now)
	if err := s.repo.ResetBudget(ctx, b.ID, next); err != nil {
		s.logger.ErrorContext(ctx, "failed to reset budget", "budget_id", b.ID, "error", err)
		return
	}
	s.auditor.Record(ctx, audit.Entry{
		TenantID:     b.TenantID,
		Action:       "budget_reset",
		ResourceType: "budget",
		ResourceID:   &b.ID,
		Metadata:     domain.Payload{"next_reset": next, "was_frozen": b.IsFrozen},
		Tags:         []string{domain.AuditTagAutomation},
	})
	s.notify(b.TenantID, b.ID, "reset")
}

func (s *Service) notify(tenantID, id, action string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(domain.ChangeEvent{
		TenantID:     tenantID,
		ResourceType: "budget",
		ResourceID:   id,
		Action:       action,
		OccurredAt:   s.now(),
	})
}
