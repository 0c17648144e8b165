package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/merchkit/opshub/internal/domain"
)

func localListing(id, externalID string, qty int, price float64, status string) *domain.Listing {
	return &domain.Listing{
		ID:         id,
		TenantID:   "t1",
		StoreID:    "store-1",
		ExternalID: &externalID,
		Status:     status,
		Quantity:   qty,
		Price:      price,
	}
}

func kindsOf(found []domain.Discrepancy) []domain.DiscrepancyKind {
	kinds := make([]domain.DiscrepancyKind, 0, len(found))
	for _, d := range found {
		kinds = append(kinds, d.Kind)
	}
	return kinds
}

func TestClassifyCleanState(t *testing.T) {
	locals := []*domain.Listing{localListing("l1", "x1", 10, 19.99, "active")}
	remotes := []RemoteListing{{ExternalID: "x1", Status: "active", Quantity: 10, Price: 19.99}}
	require.Empty(t, classify(locals, remotes))
}

func TestClassifyInventoryTolerance(t *testing.T) {
	tests := []struct {
		name      string
		remoteQty int
		want      int // discrepancy count
		severity  domain.Severity
	}{
		{"inside tolerance", 105, 0, ""},
		{"just outside tolerance", 106, 1, domain.SeverityMedium},
		{"at critical boundary", 150, 1, domain.SeverityMedium},
		{"past critical boundary", 151, 1, domain.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locals := []*domain.Listing{localListing("l1", "x1", 100, 10, "active")}
			remotes := []RemoteListing{{ExternalID: "x1", Status: "active", Quantity: tt.remoteQty, Price: 10}}
			found := classify(locals, remotes)
			require.Len(t, found, tt.want)
			if tt.want > 0 {
				require.Equal(t, domain.DiscrepancyInventoryDrift, found[0].Kind)
				require.Equal(t, tt.severity, found[0].Severity)
			}
		})
	}
}

func TestClassifyPriceTolerance(t *testing.T) {
	locals := []*domain.Listing{localListing("l1", "x1", 10, 19.99, "active")}

	within := classify(locals, []RemoteListing{{ExternalID: "x1", Status: "active", Quantity: 10, Price: 19.995}})
	require.Empty(t, within, "sub-cent differences are representation noise")

	drifted := classify(locals, []RemoteListing{{ExternalID: "x1", Status: "active", Quantity: 10, Price: 24.99}})
	require.Len(t, drifted, 1)
	require.Equal(t, domain.DiscrepancyPriceDrift, drifted[0].Kind)
	require.Equal(t, domain.SeverityLow, drifted[0].Severity)
}

func TestClassifyMissingRemote(t *testing.T) {
	locals := []*domain.Listing{localListing("l1", "x1", 10, 10, "active")}
	found := classify(locals, nil)
	require.Len(t, found, 1)
	require.Equal(t, domain.DiscrepancyMissingRemote, found[0].Kind)
	require.Equal(t, domain.SeverityHigh, found[0].Severity)
	require.Equal(t, "l1", found[0].ListingID)
}

func TestClassifyMissingLocal(t *testing.T) {
	found := classify(nil, []RemoteListing{{ExternalID: "x9", Status: "active"}})
	require.Len(t, found, 1)
	require.Equal(t, domain.DiscrepancyMissingLocal, found[0].Kind)
	require.Equal(t, domain.SeverityMedium, found[0].Severity)
	require.Equal(t, "x9", found[0].ExternalID)
}

func TestClassifyStatusMismatch(t *testing.T) {
	locals := []*domain.Listing{localListing("l1", "x1", 10, 10, "active")}
	found := classify(locals, []RemoteListing{{ExternalID: "x1", Status: "draft", Quantity: 10, Price: 10}})
	require.Len(t, found, 1)
	require.Equal(t, domain.DiscrepancyDataMismatch, found[0].Kind)
	require.Equal(t, domain.SeverityHigh, found[0].Severity)

	// A platform that reports no status cannot mismatch.
	blank := classify(locals, []RemoteListing{{ExternalID: "x1", Quantity: 10, Price: 10}})
	require.Empty(t, blank)
}

func TestClassifyUnlinkedLocalIsSkipped(t *testing.T) {
	// Listings not yet published have no external id and nothing to diff.
	unlinked := &domain.Listing{ID: "l1", TenantID: "t1", StoreID: "store-1", Status: "draft"}
	require.Empty(t, classify([]*domain.Listing{unlinked}, nil))
}

func TestClassifyMultipleKindsOnOneListing(t *testing.T) {
	locals := []*domain.Listing{localListing("l1", "x1", 100, 19.99, "active")}
	remotes := []RemoteListing{{ExternalID: "x1", Status: "draft", Quantity: 10, Price: 29.99}}
	found := classify(locals, remotes)
	require.ElementsMatch(t, []domain.DiscrepancyKind{
		domain.DiscrepancyInventoryDrift,
		domain.DiscrepancyPriceDrift,
		domain.DiscrepancyDataMismatch,
	}, kindsOf(found))
}
