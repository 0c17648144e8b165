package budgets

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/merchkit/opshub/internal/application/approvals"
	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
)

type mockRepository struct {
	getBudgetFunc              func(ctx context.Context, tenantID, id string) (*domain.Budget, error)
	findBudgetFunc             func(ctx context.Context, tenantID, budgetType string, storeID *string) (*domain.Budget, error)
	listBudgetsByTenantFunc    func(ctx context.Context, tenantID string) ([]*domain.Budget, error)
	listBudgetsDueForResetFunc func(ctx context.Context, now time.Time) ([]*domain.Budget, error)
	incrementBudgetFunc        func(ctx context.Context, id string, amount float64) (*domain.Budget, error)
	freezeBudgetFunc           func(ctx context.Context, id string) (bool, error)
	unfreezeBudgetFunc         func(ctx context.Context, tenantID, id string) error
	resetBudgetFunc            func(ctx context.Context, id string, resetAt time.Time) error
}

func (m *mockRepository) GetBudget(ctx context.Context, tenantID, id string) (*domain.Budget, error) {
	if m.getBudgetFunc != nil {
		return m.getBudgetFunc(ctx, tenantID, id)
	}
	return nil, domain.ErrBudgetNotFound
}

func (m *mockRepository) FindBudget(ctx context.Context, tenantID, budgetType string, storeID *string) (*domain.Budget, error) {
	if m.findBudgetFunc != nil {
		return m.findBudgetFunc(ctx, tenantID, budgetType, storeID)
	}
	return nil, domain.ErrBudgetNotFound
}

func (m *mockRepository) ListBudgetsByTenant(ctx context.Context, tenantID string) ([]*domain.Budget, error) {
	if m.listBudgetsByTenantFunc != nil {
		return m.listBudgetsByTenantFunc(ctx, tenantID)
	}
	return nil, nil
}

func (m *mockRepository) ListBudgetsDueForReset(ctx context.Context, now time.Time) ([]*domain.Budget, error) {
	if m.listBudgetsDueForResetFunc != nil {
		return m.listBudgetsDueForResetFunc(ctx, now)
	}
	return nil, nil
}

func (m *mockRepository) IncrementBudget(ctx context.Context, id string, amount float64) (*domain.Budget, error) {
	if m.incrementBudgetFunc != nil {
		return m.incrementBudgetFunc(ctx, id, amount)
	}
	return nil, domain.ErrBudgetNotFound
}

func (m *mockRepository) FreezeBudget(ctx context.Context, id string) (bool, error) {
	if m.freezeBudgetFunc != nil {
		return m.freezeBudgetFunc(ctx, id)
	}
	return true, nil
}

func (m *mockRepository) UnfreezeBudget(ctx context.Context, tenantID, id string) error {
	if m.unfreezeBudgetFunc != nil {
		return m.unfreezeBudgetFunc(ctx, tenantID, id)
	}
	return nil
}

func (m *mockRepository) ResetBudget(ctx context.Context, id string, resetAt time.Time) error {
	if m.resetBudgetFunc != nil {
		return m.resetBudgetFunc(ctx, id, resetAt)
	}
	return nil
}

type mockApprover struct {
	requests []approvals.Request
}

func (m *mockApprover) Request(_ context.Context, req approvals.Request) (*domain.Approval, error) {
	m.requests = append(m.requests, req)
	return &domain.Approval{ID: "ap-1", Status: domain.ApprovalStatusPending}, nil
}

type stubAuditRepo struct {
	entries []*domain.AuditEntry
}

func (s *stubAuditRepo) InsertAuditEntry(_ context.Context, entry *domain.AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAuditRepo) ListAuditEntries(context.Context, audit.Filter) ([]*domain.AuditEntry, error) {
	return nil, nil
}

func (s *stubAuditRepo) DeleteAuditEntriesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *stubAuditRepo) actions() []string {
	actions := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func testBudget(current, limit float64) *domain.Budget {
	return &domain.Budget{
		ID:       "b1",
		TenantID: "t1",
		Type:     "api_calls",
		Period:   domain.BudgetPeriodDaily,
		Limit:    limit,
		Current:  current,
		ResetAt:  time.Now().Add(12 * time.Hour),
	}
}

func newTestService(t *testing.T, repo *mockRepository) (*Service, *mockApprover, *stubAuditRepo) {
	t.Helper()
	approver := &mockApprover{}
	auditRepo := &stubAuditRepo{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := audit.NewRecorder(auditRepo, logger)
	svc := NewService(repo, approver, auditor, nil, logger)
	return svc, approver, auditRepo
}

func TestConsumeRecordsUsage(t *testing.T) {
	repo := &mockRepository{
		findBudgetFunc: func(context.Context, string, string, *string) (*domain.Budget, error) {
			return testBudget(10, 100), nil
		},
		incrementBudgetFunc: func(_ context.Context, _ string, amount float64) (*domain.Budget, error) {
			require.Equal(t, 5.0, amount)
			return testBudget(15, 100), nil
		},
	}
	svc, approver, _ := newTestService(t, repo)

	updated, err := svc.Consume(context.Background(), "t1", "api_calls", nil, 5)
	require.NoError(t, err)
	require.Equal(t, 15.0, updated.Current)
	require.Empty(t, approver.requests)
}

func TestConsumeRejectsFrozenBeforeIncrement(t *testing.T) {
	frozen := testBudget(100, 100)
	frozen.IsFrozen = true
	repo := &mockRepository{
		findBudgetFunc: func(context.Context, string, string, *string) (*domain.Budget, error) {
			return frozen, nil
		},
		incrementBudgetFunc: func(context.Context, string, float64) (*domain.Budget, error) {
			t.Fatal("a frozen budget must not accrue usage")
			return nil, nil
		},
	}
	svc, _, _ := newTestService(t, repo)

	_, err := svc.Consume(context.Background(), "t1", "api_calls", nil, 1)
	require.ErrorIs(t, err, domain.ErrBudgetFrozen)
}

func TestConsumeBreachAtLimitFreezes(t *testing.T) {
	var froze bool
	repo := &mockRepository{
		findBudgetFunc: func(context.Context, string, string, *string) (*domain.Budget, error) {
			return testBudget(99, 100), nil
		},
		incrementBudgetFunc: func(context.Context, string, float64) (*domain.Budget, error) {
			// Exactly at the limit counts as breached.
			return testBudget(100, 100), nil
		},
		freezeBudgetFunc: func(context.Context, string) (bool, error) {
			froze = true
			return true, nil
		},
	}
	svc, approver, auditRepo := newTestService(t, repo)

	updated, err := svc.Consume(context.Background(), "t1", "api_calls", nil, 1)
	require.NoError(t, err, "the breaching consume itself succeeds")
	require.True(t, updated.Breached())
	require.True(t, froze)
	require.Len(t, approver.requests, 1)
	require.Equal(t, domain.ApprovalActionBudgetOverride, approver.requests[0].Action)
	require.Equal(t, OverrideTTL, approver.requests[0].TTL)
	require.Contains(t, auditRepo.actions(), "budget_frozen")
}

func TestConsumeBelowLimitDoesNotFreeze(t *testing.T) {
	repo := &mockRepository{
		findBudgetFunc: func(context.Context, string, string, *string) (*domain.Budget, error) {
			return testBudget(98, 100), nil
		},
		incrementBudgetFunc: func(context.Context, string, float64) (*domain.Budget, error) {
			return testBudget(99, 100), nil
		},
		freezeBudgetFunc: func(context.Context, string) (bool, error) {
			t.Fatal("one below the limit must not freeze")
			return false, nil
		},
	}
	svc, _, _ := newTestService(t, repo)

	_, err := svc.Consume(context.Background(), "t1", "api_calls", nil, 1)
	require.NoError(t, err)
}

func TestFreezeLoserDoesNotEscalate(t *testing.T) {
	repo := &mockRepository{
		findBudgetFunc: func(context.Context, string, string, *string) (*domain.Budget, error) {
			return testBudget(99, 100), nil
		},
		incrementBudgetFunc: func(context.Context, string, float64) (*domain.Budget, error) {
			return testBudget(101, 100), nil
		},
		freezeBudgetFunc: func(context.Context, string) (bool, error) {
			// Another replica already flipped the flag.
			return false, nil
		},
	}
	svc, approver, auditRepo := newTestService(t, repo)

	_, err := svc.Consume(context.Background(), "t1", "api_calls", nil, 1)
	require.NoError(t, err)
	require.Empty(t, approver.requests, "only the freeze winner raises an approval")
	require.Empty(t, auditRepo.actions())
}

func TestConsumeRequiresTenant(t *testing.T) {
	svc, _, _ := newTestService(t, &mockRepository{})
	_, err := svc.Consume(context.Background(), "", "api_calls", nil, 1)
	require.ErrorIs(t, err, domain.ErrTenantRequired)
}

func TestCheckTenantResetsDueBudgets(t *testing.T) {
	due := testBudget(40, 100)
	due.ResetAt = time.Now().Add(-time.Hour)
	due.IsFrozen = true

	var resetID string
	var nextReset time.Time
	repo := &mockRepository{
		listBudgetsByTenantFunc: func(context.Context, string) ([]*domain.Budget, error) {
			return []*domain.Budget{due}, nil
		},
		resetBudgetFunc: func(_ context.Context, id string, resetAt time.Time) error {
			resetID = id
			nextReset = resetAt
			return nil
		},
	}
	svc, _, auditRepo := newTestService(t, repo)

	require.NoError(t, svc.CheckTenant(context.Background(), "t1"))
	require.Equal(t, "b1", resetID)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 1), nextReset, time.Minute)
	require.Contains(t, auditRepo.actions(), "budget_reset")
}

func TestResetDueCountsBudgets(t *testing.T) {
	repo := &mockRepository{
		listBudgetsDueForResetFunc: func(context.Context, time.Time) ([]*domain.Budget, error) {
			a := testBudget(10, 100)
			b := testBudget(20, 100)
			b.ID = "b2"
			return []*domain.Budget{a, b}, nil
		},
	}
	svc, _, _ := newTestService(t, repo)

	n, err := svc.ResetDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestUnfreezeAudits(t *testing.T) {
	var unfrozen bool
	repo := &mockRepository{
		unfreezeBudgetFunc: func(_ context.Context, tenantID, id string) error {
			require.Equal(t, "t1", tenantID)
			require.Equal(t, "b1", id)
			unfrozen = true
			return nil
		},
	}
	svc, _, auditRepo := newTestService(t, repo)

	require.NoError(t, svc.Unfreeze(context.Background(), "t1", "b1", nil))
	require.True(t, unfrozen)
	require.Contains(t, auditRepo.actions(), "budget_unfrozen")
}
