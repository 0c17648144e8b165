package reconcile

import (
	"math"

	"github.com/merchkit/opshub/internal/domain"
)

// Drift thresholds. Inventory differences inside the tolerance are noise
// from in-flight orders; price comparison tolerates float representation
// error only.
const (
	inventoryTolerance = 5
	inventoryCritical  = 50
	priceTolerance     = 0.01
)

// RemoteListing is the platform-side view of a listing, as fetched through
// the gateway.
type RemoteListing struct {
	ExternalID string
	Status     string
	Quantity   int
	Price      float64
}

// classify diffs local listings against remote state and emits one
// discrepancy per divergence. It never mutates either side.
func classify(locals []*domain.Listing, remotes []RemoteListing) []domain.Discrepancy {
	localByExt := make(map[string]*domain.Listing, len(locals))
	for _, l := range locals {
		if l.ExternalID != nil && *l.ExternalID != "" {
			localByExt[*l.ExternalID] = l
		}
	}
	remoteByExt := make(map[string]RemoteListing, len(remotes))
	for _, r := range remotes {
		remoteByExt[r.ExternalID] = r
	}

	var found []domain.Discrepancy

	for _, r := range remotes {
		if _, ok := localByExt[r.ExternalID]; !ok {
			found = append(found, domain.Discrepancy{
				Kind:       domain.DiscrepancyMissingLocal,
				Severity:   domain.SeverityMedium,
				ExternalID: r.ExternalID,
				Detail:     domain.Payload{"remote_status": r.Status},
			})
		}
	}

	for _, l := range locals {
		if l.ExternalID == nil || *l.ExternalID == "" {
			continue
		}
		r, ok := remoteByExt[*l.ExternalID]
		if !ok {
			found = append(found, domain.Discrepancy{
				Kind:       domain.DiscrepancyMissingRemote,
				Severity:   domain.SeverityHigh,
				ExternalID: *l.ExternalID,
				ListingID:  l.ID,
			})
			continue
		}

		if diff := absInt(l.Quantity - r.Quantity); diff > inventoryTolerance {
			severity := domain.SeverityMedium
			if diff > inventoryCritical {
				severity = domain.SeverityCritical
			}
			found = append(found, domain.Discrepancy{
				Kind:       domain.DiscrepancyInventoryDrift,
				Severity:   severity,
				ExternalID: *l.ExternalID,
				ListingID:  l.ID,
				Detail:     domain.Payload{"local_qty": l.Quantity, "remote_qty": r.Quantity},
			})
		}

		if math.Abs(l.Price-r.Price) > priceTolerance {
			found = append(found, domain.Discrepancy{
				Kind:       domain.DiscrepancyPriceDrift,
				Severity:   domain.SeverityLow,
				ExternalID: *l.ExternalID,
				ListingID:  l.ID,
				Detail:     domain.Payload{"local_price": l.Price, "remote_price": r.Price},
			})
		}

		if r.Status != "" && l.Status != r.Status {
			found = append(found, domain.Discrepancy{
				Kind:       domain.DiscrepancyDataMismatch,
				Severity:   domain.SeverityHigh,
				ExternalID: *l.ExternalID,
				ListingID:  l.ID,
				Detail:     domain.Payload{"local_status": l.Status, "remote_status": r.Status},
			})
		}
	}

	return found
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
