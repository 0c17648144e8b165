// Package audit provides the append-only audit trail. Every subsystem that
// mutates state or calls an external platform records an entry through the
// Recorder; entries are immutable until retention pruning removes them.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/merchkit/opshub/internal/domain"
)

// MinRetention is the floor on audit retention. Pruning never removes
// entries younger than this, whatever the configured window says.
const MinRetention = 90 * 24 * time.Hour

// Repository is the persistence surface the recorder needs.
type Repository interface {
	InsertAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
	ListAuditEntries(ctx context.Context, filter Filter) ([]*domain.AuditEntry, error)
	DeleteAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Filter narrows an audit query. Zero fields match everything.
type Filter struct {
	TenantID     string
	ResourceType string
	ResourceID   string
	Action       string
	Tag          string
	Since        *time.Time
	Until        *time.Time
	Limit        int
}

// Entry is the caller-facing shape of one audit record. The recorder assigns
// the ID and timestamp.
type Entry struct {
	TenantID     string
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   *string
	OldValue     domain.Payload
	NewValue     domain.Payload
	Metadata     domain.Payload
	Tags         []string
}

// Recorder writes audit entries. It is safe for concurrent use.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder backed by the given repository.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Record persists one audit entry. Failures are logged and returned; callers
// on non-critical paths may ignore the error, the mutation they audit has
// already happened.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.TenantID == "" {
		return domain.ErrTenantRequired
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate audit entry ID: %w", err)
	}

	entry := &domain.AuditEntry{
		ID:           id.String(),
		TenantID:     e.TenantID,
		ActorID:      e.ActorID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		OldValue:     e.OldValue,
		NewValue:     e.NewValue,
		Metadata:     e.Metadata,
		Tags:         e.Tags,
		ReceivedAt:   r.now(),
	}

	if err := r.repo.InsertAuditEntry(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "failed to record audit entry",
			"action", e.Action,
			"resource_type", e.ResourceType,
			"error", err)
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// List returns audit entries matching the filter, newest first.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return r.repo.ListAuditEntries(ctx, filter)
}

// Prune deletes entries older than the retention window and returns the
// number removed. Windows below MinRetention are raised to it.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < MinRetention {
		r.logger.WarnContext(ctx, "audit retention below floor, clamping",
			"requested", retention, "floor", MinRetention)
		retention = MinRetention
	}
	cutoff := r.now().Add(-retention)
	n, err := r.repo.DeleteAuditEntriesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "pruned audit entries", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
