package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/merchkit/opshub/internal/domain"
)

type mockRepository struct {
	entries []*domain.AuditEntry
	cutoffs []time.Time
}

func (m *mockRepository) InsertAuditEntry(_ context.Context, entry *domain.AuditEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepository) ListAuditEntries(context.Context, Filter) ([]*domain.AuditEntry, error) {
	return nil, nil
}

func (m *mockRepository) DeleteAuditEntriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	return 3, nil
}

func newTestRecorder(repo *mockRepository) *Recorder {
	return NewRecorder(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordRequiresTenant(t *testing.T) {
	repo := &mockRepository{}
	r := newTestRecorder(repo)

	err := r.Record(context.Background(), Entry{Action: "job_completed"})
	require.ErrorIs(t, err, domain.ErrTenantRequired)
	require.Empty(t, repo.entries)
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	repo := &mockRepository{}
	r := newTestRecorder(repo)

	err := r.Record(context.Background(), Entry{
		TenantID: "t1",
		Action:   "budget_frozen",
		Tags:     []string{domain.AuditTagAutomation},
	})
	require.NoError(t, err)
	require.Len(t, repo.entries, 1)
	require.NotEmpty(t, repo.entries[0].ID)
	require.False(t, repo.entries[0].ReceivedAt.IsZero())
}

func TestPruneClampsShortRetention(t *testing.T) {
	repo := &mockRepository{}
	r := newTestRecorder(repo)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	// A misconfigured 24h window must not prune entries inside the floor.
	n, err := r.Prune(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Equal(t, []time.Time{now.Add(-MinRetention)}, repo.cutoffs)
}

func TestPruneHonorsLongerRetention(t *testing.T) {
	repo := &mockRepository{}
	r := newTestRecorder(repo)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	retention := 365 * 24 * time.Hour
	_, err := r.Prune(context.Background(), retention)
	require.NoError(t, err)
	require.Equal(t, []time.Time{now.Add(-retention)}, repo.cutoffs)
}
