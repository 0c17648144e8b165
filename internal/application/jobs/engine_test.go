package jobs

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

// mockRepository implements Repository with function fields so each test
// overrides only what it needs.
type mockRepository struct {
	insertJobFunc         func(ctx context.Context, job *domain.Job) (*domain.Job, bool, error)
	getJobFunc            func(ctx context.Context, tenantID, id string) (*domain.Job, error)
	listDueJobTenantsFunc func(ctx context.Context) ([]string, error)
	claimJobBatchFunc     func(ctx context.Context, workerID, tenantID string, limit int, leaseTTL time.Duration) ([]*domain.Job, error)
	markJobRunningFunc    func(ctx context.Context, id, workerID string) error
	extendJobLeaseFunc    func(ctx context.Context, id, workerID string, leaseTTL time.Duration) error
	completeJobFunc       func(ctx context.Context, id, workerID string, result domain.Payload) error
	failJobFunc           func(ctx context.Context, id, workerID string, attempts int, lastError string) error
	rescheduleJobFunc     func(ctx context.Context, id, workerID string, at time.Time, attempts int, lastError string) error
	cancelJobFunc         func(ctx context.Context, tenantID, id string) (*domain.Job, error)
	resetJobForRetryFunc  func(ctx context.Context, tenantID, id string, scheduledAt time.Time) (*domain.Job, error)
}

func (m *mockRepository) InsertJob(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	if m.insertJobFunc != nil {
		return m.insertJobFunc(ctx, job)
	}
	return job, true, nil
}

func (m *mockRepository) GetJob(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	if m.getJobFunc != nil {
		return m.getJobFunc(ctx, tenantID, id)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) ListDueJobTenants(ctx context.Context) ([]string, error) {
	if m.listDueJobTenantsFunc != nil {
		return m.listDueJobTenantsFunc(ctx)
	}
	return nil, nil
}

func (m *mockRepository) ClaimJobBatch(ctx context.Context, workerID, tenantID string, limit int, leaseTTL time.Duration) ([]*domain.Job, error) {
	if m.claimJobBatchFunc != nil {
		return m.claimJobBatchFunc(ctx, workerID, tenantID, limit, leaseTTL)
	}
	return nil, nil
}

func (m *mockRepository) MarkJobRunning(ctx context.Context, id, workerID string) error {
	if m.markJobRunningFunc != nil {
		return m.markJobRunningFunc(ctx, id, workerID)
	}
	return nil
}

func (m *mockRepository) ExtendJobLease(ctx context.Context, id, workerID string, leaseTTL time.Duration) error {
	if m.extendJobLeaseFunc != nil {
		return m.extendJobLeaseFunc(ctx, id, workerID, leaseTTL)
	}
	return nil
}

func (m *mockRepository) CompleteJob(ctx context.Context, id, workerID string, result domain.Payload) error {
	if m.completeJobFunc != nil {
		return m.completeJobFunc(ctx, id, workerID, result)
	}
	return nil
}

func (m *mockRepository) FailJob(ctx context.Context, id, workerID string, attempts int, lastError string) error {
	if m.failJobFunc != nil {
		return m.failJobFunc(ctx, id, workerID, attempts, lastError)
	}
	return nil
}

func (m *mockRepository) RescheduleJob(ctx context.Context, id, workerID string, at time.Time, attempts int, lastError string) error {
	if m.rescheduleJobFunc != nil {
		return m.rescheduleJobFunc(ctx, id, workerID, at, attempts, lastError)
	}
	return nil
}

func (m *mockRepository) CancelJob(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	if m.cancelJobFunc != nil {
		return m.cancelJobFunc(ctx, tenantID, id)
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepository) ResetJobForRetry(ctx context.Context, tenantID, id string, scheduledAt time.Time) (*domain.Job, error) {
	if m.resetJobForRetryFunc != nil {
		return m.resetJobForRetryFunc(ctx, tenantID, id, scheduledAt)
	}
	return nil, domain.ErrJobNotFound
}

// stubAuditRepo records inserted entries.
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T, types ...string) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, jobType := range types {
		err := registry.Register(jobType, func(context.Context, *domain.Job) (domain.Payload, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}
	return registry
}

func newTestEngine(t *testing.T, repo *mockRepository, types ...string) (*Engine, *stubAuditRepo) {
	t.Helper()
	auditRepo := &stubAuditRepo{}
	auditor := audit.NewRecorder(auditRepo, testLogger())
	engine := NewEngine(repo, testRegistry(t, types...), auditor, nil, testLogger())
	return engine, auditRepo
}

func TestEnqueueValidation(t *testing.T) {
	engine, _ := newTestEngine(t, &mockRepository{}, "product_sync")
	ctx := context.Background()

	base := func() EnqueueRequest {
		return EnqueueRequest{
			TenantID:       "t1",
			Type:           "product_sync",
			IdempotencyKey: "key-1",
		}
	}

	t.Run("missing tenant", func(t *testing.T) {
		req := base()
		req.TenantID = ""
		_, err := engine.Enqueue(ctx, req)
		require.ErrorIs(t, err, domain.ErrTenantRequired)
	})

	t.Run("missing idempotency key", func(t *testing.T) {
		req := base()
		req.IdempotencyKey = ""
		_, err := engine.Enqueue(ctx, req)
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	})

	t.Run("unknown job type", func(t *testing.T) {
		req := base()
		req.Type = "no_such_type"
		_, err := engine.Enqueue(ctx, req)
		require.ErrorIs(t, err, domain.ErrUnknownJobType)
	})

	t.Run("priority out of range", func(t *testing.T) {
		req := base()
		bad := 101
		req.Priority = &bad
		_, err := engine.Enqueue(ctx, req)
		require.ErrorIs(t, err, domain.ErrInvalidPriority)

		neg := -1
		req.Priority = &neg
		_, err = engine.Enqueue(ctx, req)
		require.ErrorIs(t, err, domain.ErrInvalidPriority)
	})

	t.Run("max attempts below one", func(t *testing.T) {
		req := base()
		zero := 0
		req.MaxAttempts = &zero
		_, err := engine.Enqueue(ctx, req)
		require.ErrorIs(t, err, domain.ErrInvalidMaxAttempts)
	})

	t.Run("scheduled too far in the past", func(t *testing.T) {
		req := base()
		stale := time.Now().Add(-2 * time.Minute)
		req.ScheduledAt = &stale
		_, err := engine.Enqueue(ctx, req)
		require.ErrorIs(t, err, domain.ErrScheduledInPast)
	})
}

func TestEnqueueDefaults(t *testing.T) {
	var inserted *domain.Job
	repo := &mockRepository{
		insertJobFunc: func(_ context.Context, job *domain.Job) (*domain.Job, bool, error) {
			inserted = job
			return job, true, nil
		},
	}
	engine, auditRepo := newTestEngine(t, repo, "product_sync")

	job, err := engine.Enqueue(context.Background(), EnqueueRequest{
		TenantID:       "t1",
		Type:           "product_sync",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.NotNil(t, inserted)
	require.Equal(t, domain.DefaultPriority, job.Priority)
	require.Equal(t, domain.DefaultMaxAttempts, job.MaxAttempts)
	require.Equal(t, domain.JobStatusPending, job.Status)
	require.NotEmpty(t, job.ID)
	require.Contains(t, auditRepo.actions(), "job_enqueued")
}

func TestEnqueueDeduplicates(t *testing.T) {
	existing := &domain.Job{ID: "existing", TenantID: "t1", Type: "product_sync", IdempotencyKey: "key-1"}
	repo := &mockRepository{
		insertJobFunc: func(_ context.Context, _ *domain.Job) (*domain.Job, bool, error) {
			return existing, false, nil
		},
	}
	engine, auditRepo := newTestEngine(t, repo, "product_sync")

	job, err := engine.Enqueue(context.Background(), EnqueueRequest{
		TenantID:       "t1",
		Type:           "product_sync",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.Equal(t, "existing", job.ID)
	// Duplicate submissions leave no audit trail of their own.
	require.Empty(t, auditRepo.actions())
}

func TestCancelAudits(t *testing.T) {
	repo := &mockRepository{
		cancelJobFunc: func(_ context.Context, tenantID, id string) (*domain.Job, error) {
			return &domain.Job{ID: id, TenantID: tenantID, Status: domain.JobStatusCancelled}, nil
		},
	}
	engine, auditRepo := newTestEngine(t, repo, "product_sync")

	job, err := engine.Cancel(context.Background(), "t1", "j1", nil)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCancelled, job.Status)
	require.Contains(t, auditRepo.actions(), "job_cancelled")
}

func TestRetryResetsJob(t *testing.T) {
	repo := &mockRepository{
		resetJobForRetryFunc: func(_ context.Context, tenantID, id string, _ time.Time) (*domain.Job, error) {
			return &domain.Job{ID: id, TenantID: tenantID, Status: domain.JobStatusPending, Attempts: 0}, nil
		},
	}
	engine, auditRepo := newTestEngine(t, repo, "product_sync")

	job, err := engine.Retry(context.Background(), "t1", "j1", nil)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusPending, job.Status)
	require.Zero(t, job.Attempts)
	require.Contains(t, auditRepo.actions(), "job_retried")
}

func TestRegistryFreeze(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("a", func(context.Context, *domain.Job) (domain.Payload, error) {
		return nil, nil
	}))
	require.Error(t, registry.Register("a", func(context.Context, *domain.Job) (domain.Payload, error) {
		return nil, nil
	}), "duplicate registration must fail")

	registry.Freeze()
	require.Error(t, registry.Register("b", func(context.Context, *domain.Job) (domain.Payload, error) {
		return nil, nil
	}), "registration after freeze must fail")

	_, ok := registry.Handler("a")
	require.True(t, ok)
}
