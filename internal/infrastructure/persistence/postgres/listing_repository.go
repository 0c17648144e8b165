package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/merchkit/opshub/internal/domain"
)

const listingColumns = `id, tenant_id, store_id, external_id, title, status,
	quantity, price, updated_at`

func scanListing(row jobScanner) (*domain.Listing, error) {
	var listing domain.Listing
	err := row.Scan(
		&listing.ID, &listing.TenantID, &listing.StoreID, &listing.ExternalID,
		&listing.Title, &listing.Status, &listing.Quantity, &listing.Price,
		&listing.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// GetListing returns a tenant's listing.
func (s *Store) GetListing(ctx context.Context, tenantID, id string) (*domain.Listing, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to load listing: %w", mapIDError(err))
	}
	return listing, nil
}

// ListListingsByStore returns every listing for one store.
func (s *Store) ListListingsByStore(ctx context.Context, tenantID, storeID string) ([]*domain.Listing, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE tenant_id = $1 AND store_id = $2
		ORDER BY updated_at DESC`,
		tenantID, storeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*domain.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, listing)
	}
	return listings, rows.Err()
}

// FindListingByExternalID resolves a listing by the platform's resource id.
func (s *Store) FindListingByExternalID(ctx context.Context, storeID, externalID string) (*domain.Listing, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE store_id = $1 AND external_id = $2`,
		storeID, externalID,
	)
	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to find listing: %w", mapIDError(err))
	}
	return listing, nil
}

// SetListingStatus updates a listing's lifecycle status.
func (s *Store) SetListingStatus(ctx context.Context, id, status string) error {
	return s.updateListing(ctx,
		`UPDATE listings SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
}

// SetListingExternalID binds a listing to the platform resource it was
// published as.
func (s *Store) SetListingExternalID(ctx context.Context, id, externalID string) error {
	return s.updateListing(ctx,
		`UPDATE listings SET external_id = $2, updated_at = now() WHERE id = $1`,
		id, externalID)
}

// SetListingQuantity overwrites local inventory with the platform's count.
func (s *Store) SetListingQuantity(ctx context.Context, id string, quantity int) error {
	return s.updateListing(ctx,
		`UPDATE listings SET quantity = $2, updated_at = now() WHERE id = $1`,
		id, quantity)
}

func (s *Store) updateListing(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update listing: %w", mapIDError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrListingNotFound
	}
	return nil
}
