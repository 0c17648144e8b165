package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
)

const auditColumns = `id, tenant_id, actor_id, action, resource_type, resource_id,
	old_value, new_value, metadata, tags, received_at`

func scanAuditEntry(row jobScanner) (*domain.AuditEntry, error) {
	var (
		entry                        domain.AuditEntry
		oldValue, newValue, metadata []byte
	)
	err := row.Scan(
		&entry.ID, &entry.TenantID, &entry.ActorID, &entry.Action,
		&entry.ResourceType, &entry.ResourceID, &oldValue, &newValue, &metadata,
		&entry.Tags, &entry.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	if entry.OldValue, err = unmarshalPayload(oldValue); err != nil {
		return nil, err
	}
	if entry.NewValue, err = unmarshalPayload(newValue); err != nil {
		return nil, err
	}
	if entry.Metadata, err = unmarshalPayload(metadata); err != nil {
		return nil, err
	}
	return &entry, nil
}

// InsertAuditEntry appends one audit record. The table's trigger rejects any
// later UPDATE, so this is the only write path.
func (s *Store) InsertAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	oldValue, err := marshalPayload(entry.OldValue)
	if err != nil {
		return err
	}
	newValue, err := marshalPayload(entry.NewValue)
	if err != nil {
		return err
	}
	metadata, err := marshalPayload(entry.Metadata)
	if err != nil {
		return err
	}

	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_entries (id, tenant_id, actor_id, action, resource_type,
			resource_id, old_value, new_value, metadata, tags, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.TenantID, entry.ActorID, entry.Action, entry.ResourceType,
		entry.ResourceID, oldValue, newValue, metadata, tags, entry.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", mapIDError(err))
	}
	return nil
}

// ListAuditEntries returns entries matching the filter, newest first.
func (s *Store) ListAuditEntries(ctx context.Context, filter audit.Filter) ([]*domain.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Tag != "" {
		add("$%d = ANY(tags)", filter.Tag)
	}
	if filter.Since != nil {
		add("received_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("received_at < $%d", *filter.Until)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY received_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteAuditEntriesBefore removes entries older than the retention cutoff
// and returns the number deleted.
func (s *Store) DeleteAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM audit_entries WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
