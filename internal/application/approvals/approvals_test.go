package approvals

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
)

type mockRepository struct {
	insertApprovalFunc         func(ctx context.Context, approval *domain.Approval) error
	getApprovalFunc            func(ctx context.Context, tenantID, id string) (*domain.Approval, error)
	listPendingApprovalsFunc   func(ctx context.Context, tenantID string, limit int) ([]*domain.Approval, error)
	decideApprovalFunc         func(ctx context.Context, tenantID, id string, status domain.ApprovalStatus, decidedBy string, reason *string, at time.Time) (*domain.Approval, error)
	expirePendingApprovalsFunc func(ctx context.Context, now time.Time) ([]*domain.Approval, error)
}

func (m *mockRepository) InsertApproval(ctx context.Context, approval *domain.Approval) error {
	if m.insertApprovalFunc != nil {
		return m.insertApprovalFunc(ctx, approval)
	}
	return nil
}

func (m *mockRepository) GetApproval(ctx context.Context, tenantID, id string) (*domain.Approval, error) {
	if m.getApprovalFunc != nil {
		return m.getApprovalFunc(ctx, tenantID, id)
	}
	return nil, domain.ErrApprovalNotFound
}

func (m *mockRepository) ListPendingApprovals(ctx context.Context, tenantID string, limit int) ([]*domain.Approval, error) {
	if m.listPendingApprovalsFunc != nil {
		return m.listPendingApprovalsFunc(ctx, tenantID, limit)
	}
	return nil, nil
}

func (m *mockRepository) DecideApproval(ctx context.Context, tenantID, id string, status domain.ApprovalStatus, decidedBy string, reason *string, at time.Time) (*domain.Approval, error) {
	if m.decideApprovalFunc != nil {
		return m.decideApprovalFunc(ctx, tenantID, id, status, decidedBy, reason, at)
	}
	return nil, domain.ErrApprovalNotFound
}

func (m *mockRepository) ExpirePendingApprovals(ctx context.Context, now time.Time) ([]*domain.Approval, error) {
	if m.expirePendingApprovalsFunc != nil {
		return m.expirePendingApprovalsFunc(ctx, now)
	}
	return nil, nil
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

type recordingNotifier struct {
	events []domain.ChangeEvent
}

func (n *recordingNotifier) Publish(event domain.ChangeEvent) {
	n.events = append(n.events, event)
}

func newTestService(t *testing.T, repo *mockRepository) (*Service, *stubAuditRepo, *recordingNotifier) {
	t.Helper()
	auditRepo := &stubAuditRepo{}
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, audit.NewRecorder(auditRepo, logger), notifier, logger)
	return svc, auditRepo, notifier
}

func TestRequestDefaults(t *testing.T) {
	var inserted *domain.Approval
	repo := &mockRepository{
		insertApprovalFunc: func(_ context.Context, approval *domain.Approval) error {
			inserted = approval
			return nil
		},
	}
	svc, auditRepo, notifier := newTestService(t, repo)

	approval, err := svc.Request(context.Background(), Request{
		TenantID:     "t1",
		ResourceType: "job",
		ResourceID:   "j1",
		Action:       domain.ApprovalActionJobRetry,
	})
	require.NoError(t, err)
	require.NotNil(t, inserted)
	require.Equal(t, domain.ApprovalStatusPending, approval.Status)
	require.Equal(t, "system", approval.RequestedBy)
	require.WithinDuration(t, time.Now().Add(DefaultTTL), approval.ExpiresAt, time.Minute)
	require.Contains(t, auditRepo.actions(), "approval_requested")
	require.Len(t, notifier.events, 1)
	require.Equal(t, "created", notifier.events[0].Action)
}

func TestRequestHonorsTTL(t *testing.T) {
	svc, _, _ := newTestService(t, &mockRepository{})

	approval, err := svc.Request(context.Background(), Request{
		TenantID:     "t1",
		ResourceType: "budget",
		ResourceID:   "b1",
		Action:       domain.ApprovalActionBudgetOverride,
		TTL:          24 * time.Hour,
	})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), approval.ExpiresAt, time.Minute)
}

func TestRequestRequiresTenant(t *testing.T) {
	svc, _, _ := newTestService(t, &mockRepository{})
	_, err := svc.Request(context.Background(), Request{Action: domain.ApprovalActionJobRetry})
	require.ErrorIs(t, err, domain.ErrTenantRequired)
}

func TestDecide(t *testing.T) {
	repo := &mockRepository{
		decideApprovalFunc: func(_ context.Context, tenantID, id string, status domain.ApprovalStatus, decidedBy string, _ *string, at time.Time) (*domain.Approval, error) {
			decided := at
			return &domain.Approval{
				ID: id, TenantID: tenantID, Status: status,
				DecidedBy: &decidedBy, DecidedAt: &decided,
			}, nil
		},
	}
	svc, auditRepo, notifier := newTestService(t, repo)

	approval, err := svc.Decide(context.Background(), "t1", "ap-1", "approved", "alice", nil)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalStatusApproved, approval.Status)
	require.Contains(t, auditRepo.actions(), "approval_approved")
	require.Len(t, notifier.events, 1)
	require.Equal(t, "approved", notifier.events[0].Action)
}

func TestDecideInvalidDecision(t *testing.T) {
	svc, auditRepo, _ := newTestService(t, &mockRepository{})
	_, err := svc.Decide(context.Background(), "t1", "ap-1", "maybe", "alice", nil)
	require.Error(t, err)
	require.Empty(t, auditRepo.actions())
}

func TestDecideAlreadyDecided(t *testing.T) {
	repo := &mockRepository{
		decideApprovalFunc: func(context.Context, string, string, domain.ApprovalStatus, string, *string, time.Time) (*domain.Approval, error) {
			return nil, domain.ErrApprovalDecided
		},
	}
	svc, auditRepo, _ := newTestService(t, repo)

	_, err := svc.Decide(context.Background(), "t1", "ap-1", "rejected", "alice", nil)
	require.ErrorIs(t, err, domain.ErrApprovalDecided)
	require.Empty(t, auditRepo.actions(), "a lost race leaves no audit entry")
}

func TestExpireSweepAuditsEachApproval(t *testing.T) {
	repo := &mockRepository{
		expirePendingApprovalsFunc: func(context.Context, time.Time) ([]*domain.Approval, error) {
			return []*domain.Approval{
				{ID: "ap-1", TenantID: "t1", Status: domain.ApprovalStatusExpired},
				{ID: "ap-2", TenantID: "t2", Status: domain.ApprovalStatusExpired},
			}, nil
		},
	}
	svc, auditRepo, notifier := newTestService(t, repo)

	n, err := svc.ExpireSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"approval_expired", "approval_expired"}, auditRepo.actions())
	require.Len(t, notifier.events, 2)
}

func TestEscalateJobFailure(t *testing.T) {
	var inserted *domain.Approval
	repo := &mockRepository{
		insertApprovalFunc: func(_ context.Context, approval *domain.Approval) error {
			inserted = approval
			return nil
		},
	}
	svc, _, _ := newTestService(t, repo)

	job := &domain.Job{ID: "j1", TenantID: "t1", Type: "product_sync", Attempts: 3}
	require.NoError(t, svc.EscalateJobFailure(context.Background(), job, "upstream 500"))
	require.NotNil(t, inserted)
	require.Equal(t, domain.ApprovalActionJobRetry, inserted.Action)
	require.Equal(t, "j1", inserted.ResourceID)
	require.Equal(t, "upstream 500", inserted.Payload["last_error"])
	require.Equal(t, 3, inserted.Payload["attempts"])
}

func TestEscalateCredentialFailure(t *testing.T) {
	var inserted *domain.Approval
	repo := &mockRepository{
		insertApprovalFunc: func(_ context.Context, approval *domain.Approval) error {
			inserted = approval
			return nil
		},
	}
	svc, _, _ := newTestService(t, repo)

	store := &domain.Store{ID: "store-1", TenantID: "t1", Platform: domain.PlatformEtsy}
	require.NoError(t, svc.EscalateCredentialFailure(context.Background(), store, "401 from platform"))
	require.NotNil(t, inserted)
	require.Equal(t, domain.ApprovalActionCredentialReview, inserted.Action)
	require.Equal(t, "store-1", inserted.ResourceID)
	require.Equal(t, "etsy", inserted.Payload["platform"])
}
