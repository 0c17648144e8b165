package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/merchkit/opshub/internal/domain"
)

const webhookColumns = `id, store_id, external_id, event_type, payload, signature,
	status, received_at, processed_at, error`

func scanWebhookEvent(row jobScanner) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	err := row.Scan(
		&event.ID, &event.StoreID, &event.ExternalID, &event.EventType,
		&event.Payload, &event.Signature, &event.Status, &event.ReceivedAt,
		&event.ProcessedAt, &event.Error,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindWebhookEvent looks up an event by its replay-dedup key.
func (s *Store) FindWebhookEvent(ctx context.Context, storeID, externalID, eventType string) (*domain.WebhookEvent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+webhookColumns+` FROM webhook_events
		WHERE store_id = $1 AND external_id = $2 AND event_type = $3`,
		storeID, externalID, eventType,
	)
	event, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to load webhook event: %w", mapIDError(err))
	}
	return event, nil
}

// InsertWebhookEvent persists a new event. A dedup-key collision returns
// domain.ErrDuplicateEvent so the caller can take the replay path.
func (s *Store) InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (id, store_id, external_id, event_type, payload,
			signature, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.StoreID, event.ExternalID, event.EventType,
		event.Payload, event.Signature, event.Status, event.ReceivedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "webhook_events_dedup") {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert webhook event: %w", mapIDError(err))
	}
	return nil
}

// SetWebhookStatus advances an event through its pipeline states.
func (s *Store) SetWebhookStatus(ctx context.Context, id string, status domain.WebhookStatus, processedAt *time.Time, errMsg *string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE webhook_events SET status = $2, processed_at = $3, error = $4
		WHERE id = $1`,
		id, status, processedAt, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook status: %w", mapIDError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}
