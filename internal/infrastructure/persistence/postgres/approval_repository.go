package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/merchkit/opshub/internal/domain"
)

const approvalColumns = `id, tenant_id, resource_type, resource_id, action, payload,
	requested_by, status, expires_at, decided_at, decided_by, decision_reason,
	created_at`

func scanApproval(row jobScanner) (*domain.Approval, error) {
	var (
		approval domain.Approval
		payload  []byte
	)
	err := row.Scan(
		&approval.ID, &approval.TenantID, &approval.ResourceType, &approval.ResourceID,
		&approval.Action, &payload, &approval.RequestedBy, &approval.Status,
		&approval.ExpiresAt, &approval.DecidedAt, &approval.DecidedBy,
		&approval.DecisionReason, &approval.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if approval.Payload, err = unmarshalPayload(payload); err != nil {
		return nil, err
	}
	return &approval, nil
}

// InsertApproval persists a pending approval.
func (s *Store) InsertApproval(ctx context.Context, approval *domain.Approval) error {
	payload, err := marshalPayload(approval.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO approvals (id, tenant_id, resource_type, resource_id, action,
			payload, requested_by, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		approval.ID, approval.TenantID, approval.ResourceType, approval.ResourceID,
		approval.Action, payload, approval.RequestedBy, approval.Status,
		approval.ExpiresAt, approval.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", mapIDError(err))
	}
	return nil
}

// GetApproval returns a tenant's approval.
func (s *Store) GetApproval(ctx context.Context, tenantID, id string) (*domain.Approval, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	approval, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrApprovalNotFound
		}
		return nil, fmt.Errorf("failed to load approval: %w", mapIDError(err))
	}
	return approval, nil
}

// ListPendingApprovals returns a tenant's open approvals, oldest first so
// operators see the longest-waiting requests on top.
func (s *Store) ListPendingApprovals(ctx context.Context, tenantID string, limit int) ([]*domain.Approval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+approvalColumns+` FROM approvals
		WHERE tenant_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*domain.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

// DecideApproval transitions pending to a terminal status. The status guard in
// the WHERE clause makes concurrent decisions race-safe: the loser gets
// domain.ErrApprovalDecided.
func (s *Store) DecideApproval(ctx context.Context, tenantID, id string, status domain.ApprovalStatus, decidedBy string, reason *string, at time.Time) (*domain.Approval, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE approvals
		SET status = $3, decided_at = $4, decided_by = $5, decision_reason = $6
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending'
		RETURNING `+approvalColumns,
		id, tenantID, status, at, decidedBy, reason,
	)
	approval, err := scanApproval(row)
	if err == nil {
		return approval, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to decide approval: %w", mapIDError(err))
	}

	if _, getErr := s.GetApproval(ctx, tenantID, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrApprovalDecided
}

// ExpirePendingApprovals flips every pending approval past its expiry and
// returns the rows it changed.
func (s *Store) ExpirePendingApprovals(ctx context.Context, now time.Time) ([]*domain.Approval, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE approvals
		SET status = 'expired', decided_at = $1
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING `+approvalColumns,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire approvals: %w", err)
	}
	defer rows.Close()

	var expired []*domain.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired approval: %w", err)
		}
		expired = append(expired, approval)
	}
	return expired, rows.Err()
}
