package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/merchkit/opshub/internal/domain"
)

const storeColumns = `id, tenant_id, platform, credentials, rate_limit_state,
	state_version, last_synced_at, is_active`

func scanStore(row jobScanner) (*domain.Store, error) {
	var (
		store domain.Store
		state []byte
	)
	err := row.Scan(
		&store.ID, &store.TenantID, &store.Platform, &store.Credentials,
		&state, &store.StateVersion, &store.LastSyncedAt, &store.IsActive,
	)
	if err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &store.RateLimit); err != nil {
			return nil, fmt.Errorf("failed to decode rate limit state: %w", err)
		}
	}
	return &store, nil
}

// GetStore returns one store by id.
func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE id = $1`, storeID)
	store, err := scanStore(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStoreNotFound
		}
		return nil, fmt.Errorf("failed to load store: %w", mapIDError(err))
	}
	return store, nil
}

// ListActiveStores returns every active store, for scheduler fan-out.
func (s *Store) ListActiveStores(ctx context.Context) ([]*domain.Store, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE is_active ORDER BY tenant_id, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active stores: %w", err)
	}
	defer rows.Close()

	var stores []*domain.Store
	for rows.Next() {
		store, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores = append(stores, store)
	}
	return stores, rows.Err()
}

// UpdateRateLimitState writes bucket state under optimistic concurrency on
// state_version.
func (s *Store) UpdateRateLimitState(ctx context.Context, storeID string, state domain.RateLimitState, expectedVersion int64) (int64, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to encode rate limit state: %w", err)
	}

	var newVersion int64
	err = s.db.QueryRow(ctx, `
		UPDATE stores
		SET rate_limit_state = $2, state_version = state_version + 1
		WHERE id = $1 AND state_version = $3
		RETURNING state_version`,
		storeID, encoded, expectedVersion,
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrVersionConflict
		}
		return 0, fmt.Errorf("failed to update rate limit state: %w", mapIDError(err))
	}
	return newVersion, nil
}

// DeactivateStore flips is_active off after a credential failure.
func (s *Store) DeactivateStore(ctx context.Context, storeID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE stores SET is_active = FALSE WHERE id = $1`, storeID)
	if err != nil {
		return fmt.Errorf("failed to deactivate store: %w", mapIDError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStoreNotFound
	}
	return nil
}

// SetStoreLastSynced records reconciliation completion.
func (s *Store) SetStoreLastSynced(ctx context.Context, storeID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE stores SET last_synced_at = $2 WHERE id = $1`, storeID, at)
	if err != nil {
		return fmt.Errorf("failed to record sync time: %w", mapIDError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStoreNotFound
	}
	return nil
}
