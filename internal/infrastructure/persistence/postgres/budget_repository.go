package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/merchkit/opshub/internal/domain"
)

const budgetColumns = `id, tenant_id, store_id, type, period, limit_amount,
	current_amount, reset_at, is_frozen`

func scanBudget(row jobScanner) (*domain.Budget, error) {
	var budget domain.Budget
	err := row.Scan(
		&budget.ID, &budget.TenantID, &budget.StoreID, &budget.Type, &budget.Period,
		&budget.Limit, &budget.Current, &budget.ResetAt, &budget.IsFrozen,
	)
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

// GetBudget returns a tenant's budget by id.
func (s *Store) GetBudget(ctx context.Context, tenantID, id string) (*domain.Budget, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	budget, err := scanBudget(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to load budget: %w", mapIDError(err))
	}
	return budget, nil
}

// FindBudget resolves a budget by scope. A nil storeID matches the
// tenant-wide budget; the unique scope index guarantees at most one row
// either way.
func (s *Store) FindBudget(ctx context.Context, tenantID, budgetType string, storeID *string) (*domain.Budget, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE tenant_id = $1 AND type = $2
		  AND store_id IS NOT DISTINCT FROM $3`,
		tenantID, budgetType, storeID,
	)
	budget, err := scanBudget(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to find budget: %w", mapIDError(err))
	}
	return budget, nil
}

// ListBudgetsByTenant returns all of a tenant's budgets.
func (s *Store) ListBudgetsByTenant(ctx context.Context, tenantID string) ([]*domain.Budget, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE tenant_id = $1 ORDER BY type`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()
	return collectBudgets(rows)
}

// ListBudgetsDueForReset returns budgets past their period boundary, across
// tenants.
func (s *Store) ListBudgetsDueForReset(ctx context.Context, now time.Time) ([]*domain.Budget, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE reset_at <= $1 ORDER BY reset_at`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due budgets: %w", err)
	}
	defer rows.Close()
	return collectBudgets(rows)
}

// ListBudgetTenants returns the distinct tenants that hold budgets, for
// scheduler fan-out of budget_check jobs.
func (s *Store) ListBudgetTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT tenant_id FROM budgets ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func collectBudgets(rows pgx.Rows) ([]*domain.Budget, error) {
	var budgets []*domain.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, budget)
	}
	return budgets, rows.Err()
}

// IncrementBudget atomically adds amount to current usage and returns the
// updated row, so the caller's breach check sees the post-increment value.
func (s *Store) IncrementBudget(ctx context.Context, id string, amount float64) (*domain.Budget, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE budgets SET current_amount = current_amount + $2
		WHERE id = $1
		RETURNING `+budgetColumns,
		id, amount,
	)
	budget, err := scanBudget(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to increment budget: %w", mapIDError(err))
	}
	return budget, nil
}

// FreezeBudget flips is_frozen from false to true. ok=false means another
// caller already froze it this epoch.
func (s *Store) FreezeBudget(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE budgets SET is_frozen = TRUE WHERE id = $1 AND NOT is_frozen`, id)
	if err != nil {
		return false, fmt.Errorf("failed to freeze budget: %w", mapIDError(err))
	}
	return tag.RowsAffected() > 0, nil
}

// UnfreezeBudget re-opens a frozen budget.
func (s *Store) UnfreezeBudget(ctx context.Context, tenantID, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE budgets SET is_frozen = FALSE WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to unfreeze budget: %w", mapIDError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBudgetNotFound
	}
	return nil
}

// ResetBudget clears usage and advances the period boundary. is_frozen is
// deliberately untouched; unfreezing stays an operator action.
func (s *Store) ResetBudget(ctx context.Context, id string, resetAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE budgets SET current_amount = 0, reset_at = $2 WHERE id = $1`,
		id, resetAt,
	)
	if err != nil {
		return fmt.Errorf("failed to reset budget: %w", mapIDError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBudgetNotFound
	}
	return nil
}
