// Package reconcile detects drift between local listings and the platform's
// view of them. Findings are advisory: high-severity drift raises an
// operator approval and nothing is corrected automatically.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/merchkit/opshub/internal/application/approvals"
	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
	"github.com/merchkit/opshub/internal/infrastructure/observability"
)

// ListingRepository reads the local side of the diff.
type ListingRepository interface {
	ListListingsByStore(ctx context.Context, tenantID, storeID string) ([]*domain.Listing, error)
}

// StoreRepository resolves stores and records scan completion.
type StoreRepository interface {
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	SetStoreLastSynced(ctx context.Context, storeID string, at time.Time) error
}

// Fetcher pulls the remote side of the diff through the gateway, paginating
// as the platform requires.
type Fetcher interface {
	FetchListings(ctx context.Context, store *domain.Store) ([]RemoteListing, error)
}

// ApprovalRequester raises resolve_discrepancies approvals.
type ApprovalRequester interface {
	Request(ctx context.Context, req approvals.Request) (*domain.Approval, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	StoreID       string
	Discrepancies []domain.Discrepancy
	CountsByKind  map[domain.DiscrepancyKind]int
	ApprovalID    string
}

// Engine runs reconciliation passes.
type Engine struct {
	stores   StoreRepository
	listings ListingRepository
	fetcher  Fetcher
	approver ApprovalRequester
	auditor  *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine wires an Engine.
func NewEngine(stores StoreRepository, listings ListingRepository, fetcher Fetcher, approver ApprovalRequester, auditor *audit.Recorder, logger *slog.Logger) *Engine {
	return &Engine{
		stores:   stores,
		listings: listings,
		fetcher:  fetcher,
		approver: approver,
		auditor:  auditor,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile diffs one store. Gateway rate limits propagate to the caller so
// the surrounding job reschedules instead of hammering the platform.
func (e *Engine) Reconcile(ctx context.Context, tenantID, storeID string) (*Report, error) {
	store, err := e.stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if store.TenantID != tenantID {
		return nil, domain.ErrStoreNotFound
	}

	locals, err := e.listings.ListListingsByStore(ctx, tenantID, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local listings: %w", err)
	}

	remotes, err := e.fetcher.FetchListings(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch remote listings: %w", err)
	}

	found := classify(locals, remotes)
	counts := make(map[domain.DiscrepancyKind]int)
	escalate := false
	for _, d := range found {
		counts[d.Kind]++
		observability.DiscrepanciesFound.WithLabelValues(string(d.Kind), string(d.Severity)).Inc()
		if d.Severity.RequiresApproval() {
			escalate = true
		}
	}

	report := &Report{
		StoreID:       storeID,
		Discrepancies: found,
		CountsByKind:  counts,
	}

	if escalate {
		approval, err := e.approver.Request(ctx, approvals.Request{
			TenantID:     tenantID,
			ResourceType: "store",
			ResourceID:   storeID,
			Action:       domain.ApprovalActionResolveDiscrepancies,
			Payload: domain.Payload{
				"discrepancies": found,
				"counts":        countsPayload(counts),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to request discrepancy approval: %w", err)
		}
		report.ApprovalID = approval.ID
	}

	now := e.now()
	if err := e.stores.SetStoreLastSynced(ctx, storeID, now); err != nil {
		e.logger.ErrorContext(ctx, "failed to record reconciliation time",
			"store_id", storeID, "error", err)
	}

	e.auditor.Record(ctx, audit.Entry{
		TenantID:     tenantID,
		Action:       "reconciliation_run",
		ResourceType: "store",
		ResourceID:   &storeID,
		Metadata: domain.Payload{
			"local_count":  len(locals),
			"remote_count": len(remotes),
			"counts":       countsPayload(counts),
			"escalated":    escalate,
		},
		Tags: []string{domain.AuditTagReconciliation, domain.AuditTagDataIntegrity},
	})

	e.logger.InfoContext(ctx, "reconciliation completed",
		"store_id", storeID,
		"locals", len(locals), "remotes", len(remotes),
		"discrepancies", len(found), "escalated", escalate)
	return report, nil
}

func countsPayload(counts map[domain.DiscrepancyKind]int) domain.Payload {
	p := make(domain.Payload, len(counts))
	for k, v := range counts {
		p[string(k)] = v
	}
	return p
}
