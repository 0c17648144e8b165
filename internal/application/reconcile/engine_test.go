package reconcile

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

type mockStores struct {
	getStoreFunc           func(ctx context.Context, storeID string) (*domain.Store, error)
	setStoreLastSyncedFunc func(ctx context.Context, storeID string, at time.Time) error
}

func (m *mockStores) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	if m.getStoreFunc != nil {
		return m.getStoreFunc(ctx, storeID)
	}
	return nil, domain.ErrStoreNotFound
}

func (m *mockStores) SetStoreLastSynced(ctx context.Context, storeID string, at time.Time) error {
	if m.setStoreLastSyncedFunc != nil {
		return m.setStoreLastSyncedFunc(ctx, storeID, at)
	}
	return nil
}

type mockListings struct {
	listings []*domain.Listing
}

func (m *mockListings) ListListingsByStore(context.Context, string, string) ([]*domain.Listing, error) {
	return m.listings, nil
}

type mockFetcher struct {
	remotes []RemoteListing
	err     error
}

func (m *mockFetcher) FetchListings(context.Context, *domain.Store) ([]RemoteListing, error) {
	return m.remotes, m.err
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

func newTestEngine(t *testing.T, locals []*domain.Listing, remotes []RemoteListing) (*Engine, *mockApprover, *mockStores) {
	t.Helper()
	stores := &mockStores{
		getStoreFunc: func(context.Context, string) (*domain.Store, error) {
			return &domain.Store{ID: "store-1", TenantID: "t1", Platform: domain.PlatformShopify, IsActive: true}, nil
		},
	}
	approver := &mockApprover{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := audit.NewRecorder(&stubAuditRepo{}, logger)
	engine := NewEngine(stores, &mockListings{listings: locals}, &mockFetcher{remotes: remotes}, approver, auditor, logger)
	return engine, approver, stores
}

func TestReconcileCleanStoreDoesNotEscalate(t *testing.T) {
	locals := []*domain.Listing{localListing("l1", "x1", 10, 19.99, "active")}
	remotes := []RemoteListing{{ExternalID: "x1", Status: "active", Quantity: 10, Price: 19.99}}

	var synced bool
	engine, approver, stores := newTestEngine(t, locals, remotes)
	stores.setStoreLastSyncedFunc = func(context.Context, string, time.Time) error {
		synced = true
		return nil
	}

	report, err := engine.Reconcile(context.Background(), "t1", "store-1")
	require.NoError(t, err)
	require.Empty(t, report.Discrepancies)
	require.Empty(t, report.ApprovalID)
	require.Empty(t, approver.requests)
	require.True(t, synced, "a clean pass still records the scan time")
}

func TestReconcileHighSeverityEscalates(t *testing.T) {
	// Local listing vanished from the platform: high severity.
	locals := []*domain.Listing{localListing("l1", "x1", 10, 19.99, "active")}

	engine, approver, _ := newTestEngine(t, locals, nil)
	report, err := engine.Reconcile(context.Background(), "t1", "store-1")
	require.NoError(t, err)
	require.Equal(t, "ap-1", report.ApprovalID)
	require.Len(t, approver.requests, 1)
	require.Equal(t, domain.ApprovalActionResolveDiscrepancies, approver.requests[0].Action)
	require.Equal(t, 1, report.CountsByKind[domain.DiscrepancyMissingRemote])
}

func TestReconcileLowSeverityDoesNotEscalate(t *testing.T) {
	locals := []*domain.Listing{localListing("l1", "x1", 10, 19.99, "active")}
	remotes := []RemoteListing{{ExternalID: "x1", Status: "active", Quantity: 10, Price: 24.99}}

	engine, approver, _ := newTestEngine(t, locals, remotes)
	report, err := engine.Reconcile(context.Background(), "t1", "store-1")
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	require.Empty(t, report.ApprovalID, "price drift alone is advisory")
	require.Empty(t, approver.requests)
}

func TestReconcileRejectsForeignTenant(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil, nil)
	_, err := engine.Reconcile(context.Background(), "someone-else", "store-1")
	require.ErrorIs(t, err, domain.ErrStoreNotFound)
}

func TestReconcileFetchErrorPropagates(t *testing.T) {
	stores := &mockStores{
		getStoreFunc: func(context.Context, string) (*domain.Store, error) {
			return &domain.Store{ID: "store-1", TenantID: "t1"}, nil
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := audit.NewRecorder(&stubAuditRepo{}, logger)
	engine := NewEngine(stores, &mockListings{}, &mockFetcher{err: context.DeadlineExceeded}, &mockApprover{}, auditor, logger)

	_, err := engine.Reconcile(context.Background(), "t1", "store-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
