// Package approvals implements the human-in-the-loop gate: pending requests
// that an operator approves or rejects, with automatic expiry. Other
// subsystems escalate here instead of acting on their own.
package approvals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
)

// DefaultTTL is the expiry applied when a request does not set one.
const DefaultTTL = 7 * 24 * time.Hour

// Repository is the persistence surface for approvals.
type Repository interface {
	InsertApproval(ctx context.Context, approval *domain.Approval) error
	GetApproval(ctx context.Context, tenantID, id string) (*domain.Approval, error)
	ListPendingApprovals(ctx context.Context, tenantID string, limit int) ([]*domain.Approval, error)

	// Decide transitions pending to the given terminal status with a
	// check-and-set on status. domain.ErrApprovalDecided means the approval
	// already left pending.
	DecideApproval(ctx context.Context, tenantID, id string, status domain.ApprovalStatus, decidedBy string, reason *string, at time.Time) (*domain.Approval, error)

	// ExpirePending flips every pending approval past its expiry and
	// returns the rows it changed.
	ExpirePendingApprovals(ctx context.Context, now time.Time) ([]*domain.Approval, error)
}

// Notifier pushes change events onto the per-tenant stream.
type Notifier interface {
	Publish(event domain.ChangeEvent)
}

// Request describes a new approval. A zero TTL takes DefaultTTL.
type Request struct {
	TenantID     string
	ResourceType string
	ResourceID   string
	Action       string
	Payload      domain.Payload
	RequestedBy  string
	TTL          time.Duration
}

// Service owns the approval state machine.
type Service struct {
	repo     Repository
	auditor  *audit.Recorder
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires a Service.
func NewService(repo Repository, auditor *audit.Recorder, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		auditor:  auditor,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Request creates a pending approval.
func (s *Service) Request(ctx context.Context, req Request) (*domain.Approval, error) {
	if req.TenantID == "" {
		return nil, domain.ErrTenantRequired
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate approval ID: %w", err)
	}

	now := s.now()
	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = "system"
	}
	approval := &domain.Approval{
		ID:           id.String(),
		TenantID:     req.TenantID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Action:       req.Action,
		Payload:      req.Payload,
		RequestedBy:  requestedBy,
		Status:       domain.ApprovalStatusPending,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}

	if err := s.repo.InsertApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		TenantID:     approval.TenantID,
		Action:       "approval_requested",
		ResourceType: "approval",
		ResourceID:   &approval.ID,
		NewValue:     domain.Payload{"action": approval.Action, "resource_type": approval.ResourceType, "resource_id": approval.ResourceID},
		Tags:         []string{domain.AuditTagAccessControl},
	})
	s.notify(approval, "created")
	s.logger.InfoContext(ctx, "approval requested",
		"approval_id", approval.ID, "action", approval.Action,
		"resource_type", approval.ResourceType, "resource_id", approval.ResourceID)
	return approval, nil
}

// Get returns a tenant's approval.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Approval, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}
	return s.repo.GetApproval(ctx, tenantID, id)
}

// ListPending returns a tenant's open approvals.
func (s *Service) ListPending(ctx context.Context, tenantID string, limit int) ([]*domain.Approval, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListPendingApprovals(ctx, tenantID, limit)
}

// Decide applies an operator decision to a pending approval. decision must
// be "approved" or "rejected".
func (s *Service) Decide(ctx context.Context, tenantID, id, decision, decidedBy string, reason *string) (*domain.Approval, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}

	var status domain.ApprovalStatus
	switch decision {
	case "approved":
		status = domain.ApprovalStatusApproved
	case "rejected":
		status = domain.ApprovalStatusRejected
	default:
		return nil, fmt.Errorf("invalid decision %q, want approved or rejected", decision)
	}

	approval, err := s.repo.DecideApproval(ctx, tenantID, id, status, decidedBy, reason, s.now())
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		TenantID:     tenantID,
		ActorID:      &decidedBy,
		Action:       "approval_" + decision,
		ResourceType: "approval",
		ResourceID:   &approval.ID,
		OldValue:     domain.Payload{"status": string(domain.ApprovalStatusPending)},
		NewValue:     domain.Payload{"status": string(status), "reason": reason},
		Tags:         []string{domain.AuditTagAccessControl, domain.AuditTagDataModification},
	})
	s.notify(approval, decision)
	s.logger.InfoContext(ctx, "approval decided",
		"approval_id", approval.ID, "decision", decision, "decided_by", decidedBy)
	return approval, nil
}

// ExpireSweep flips every overdue pending approval to expired. Run
// periodically by the scheduler.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpirePendingApprovals(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire approvals: %w", err)
	}
	for _, approval := range expired {
		s.auditor.Record(ctx, audit.Entry{
			TenantID:     approval.TenantID,
			Action:       "approval_expired",
			ResourceType: "approval",
			ResourceID:   &approval.ID,
			Tags:         []string{domain.AuditTagAccessControl},
		})
		s.notify(approval, "expired")
	}
	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "expired stale approvals", "count", len(expired))
	}
	return len(expired), nil
}

// EscalateJobFailure raises a job_retry approval after a job exhausts its
// attempts. Satisfies the job worker's escalator.
func (s *Service) EscalateJobFailure(ctx context.Context, job *domain.Job, reason string) error {
	_, err := s.Request(ctx, Request{
		TenantID:     job.TenantID,
		ResourceType: "job",
		ResourceID:   job.ID,
		Action:       domain.ApprovalActionJobRetry,
		Payload: domain.Payload{
			"job_type":   job.Type,
			"last_error": reason,
			"attempts":   job.Attempts,
		},
	})
	return err
}

// EscalateCredentialFailure raises a credential_review approval after a
// platform rejects a store's credentials. Satisfies the gateway's escalator.
func (s *Service) EscalateCredentialFailure(ctx context.Context, store *domain.Store, reason string) error {
	_, err := s.Request(ctx, Request{
		TenantID:     store.TenantID,
		ResourceType: "store",
		ResourceID:   store.ID,
		Action:       domain.ApprovalActionCredentialReview,
		Payload: domain.Payload{
			"platform": string(store.Platform),
			"reason":   reason,
		},
	})
	return err
}

func (s *Service) notify(approval *domain.Approval, action string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(domain.ChangeEvent{
		TenantID:     approval.TenantID,
		ResourceType: "approval",
		ResourceID:   approval.ID,
		Action:       action,
		OccurredAt:   s.now(),
	})
}
