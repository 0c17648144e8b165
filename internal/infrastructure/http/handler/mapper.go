package handler

import (
	"time"

	"github.com/merchkit/opshub/internal/domain"
)

// JSON shapes returned by the control API. Kept separate from domain types so
// wire compatibility does not constrain the domain model.

type jobJSON struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	StoreID        *string        `json:"store_id,omitempty"`
	Type           string         `json:"type"`
	Payload        domain.Payload `json:"payload,omitempty"`
	Status         string         `json:"status"`
	Priority       int            `json:"priority"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	ScheduledAt    time.Time      `json:"scheduled_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	LastError      *string        `json:"last_error,omitempty"`
	Result         domain.Payload `json:"result,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toJobJSON(job *domain.Job) jobJSON {
	return jobJSON{
		ID:             job.ID,
		TenantID:       job.TenantID,
		StoreID:        job.StoreID,
		Type:           job.Type,
		Payload:        job.Payload,
		Status:         string(job.Status),
		Priority:       job.Priority,
		Attempts:       job.Attempts,
		MaxAttempts:    job.MaxAttempts,
		ScheduledAt:    job.ScheduledAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		LastError:      job.LastError,
		Result:         job.Result,
		IdempotencyKey: job.IdempotencyKey,
		CreatedAt:      job.CreatedAt,
	}
}

type approvalJSON struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	Action         string         `json:"action"`
	Payload        domain.Payload `json:"payload,omitempty"`
	RequestedBy    string         `json:"requested_by"`
	Status         string         `json:"status"`
	ExpiresAt      time.Time      `json:"expires_at"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
	DecidedBy      *string        `json:"decided_by,omitempty"`
	DecisionReason *string        `json:"decision_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toApprovalJSON(approval *domain.Approval) approvalJSON {
	return approvalJSON{
		ID:             approval.ID,
		TenantID:       approval.TenantID,
		ResourceType:   approval.ResourceType,
		ResourceID:     approval.ResourceID,
		Action:         approval.Action,
		Payload:        approval.Payload,
		RequestedBy:    approval.RequestedBy,
		Status:         string(approval.Status),
		ExpiresAt:      approval.ExpiresAt,
		DecidedAt:      approval.DecidedAt,
		DecidedBy:      approval.DecidedBy,
		DecisionReason: approval.DecisionReason,
		CreatedAt:      approval.CreatedAt,
	}
}

type budgetJSON struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenant_id"`
	StoreID  *string `json:"store_id,omitempty"`
	Type     string  `json:"type"`
	Period   string  `json:"period"`
	Limit    float64 `json:"limit"`
	Current  float64 `json:"current"`
	ResetAt  string  `json:"reset_at"`
	IsFrozen bool    `json:"is_frozen"`
}

func toBudgetJSON(budget *domain.Budget) budgetJSON {
	return budgetJSON{
		ID:       budget.ID,
		TenantID: budget.TenantID,
		StoreID:  budget.StoreID,
		Type:     budget.Type,
		Period:   string(budget.Period),
		Limit:    budget.Limit,
		Current:  budget.Current,
		ResetAt:  budget.ResetAt.Format(time.RFC3339),
		IsFrozen: budget.IsFrozen,
	}
}

type auditJSON struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	ActorID      *string        `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	OldValue     domain.Payload `json:"old_value,omitempty"`
	NewValue     domain.Payload `json:"new_value,omitempty"`
	Metadata     domain.Payload `json:"metadata,omitempty"`
	Tags         []string       `json:"tags"`
	ReceivedAt   time.Time      `json:"received_at"`
}

func toAuditJSON(entry *domain.AuditEntry) auditJSON {
	return auditJSON{
		ID:           entry.ID,
		TenantID:     entry.TenantID,
		ActorID:      entry.ActorID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		OldValue:     entry.OldValue,
		NewValue:     entry.NewValue,
		Metadata:     entry.Metadata,
		Tags:         entry.Tags,
		ReceivedAt:   entry.ReceivedAt,
	}
}
