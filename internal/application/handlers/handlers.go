// Package handlers ships the built-in job handlers: platform syncs, listing
// publish, reconciliation, budget checks, audit pruning and webhook fan-out
// processing. The engine itself stays type-agnostic.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/application/gateway"
	"github.com/merchkit/opshub/internal/application/jobs"
	"github.com/merchkit/opshub/internal/application/reconcile"
	"github.com/merchkit/opshub/internal/domain"
)

// ListingRepository is the local listing state handlers read and write.
type ListingRepository interface {
	GetListing(ctx context.Context, tenantID, id string) (*domain.Listing, error)
	ListListingsByStore(ctx context.Context, tenantID, storeID string) ([]*domain.Listing, error)
	FindListingByExternalID(ctx context.Context, storeID, externalID string) (*domain.Listing, error)
	SetListingStatus(ctx context.Context, id, status string) error
	SetListingExternalID(ctx context.Context, id, externalID string) error
	SetListingQuantity(ctx context.Context, id string, quantity int) error
}

// Caller is the slice of the gateway handlers use.
type Caller interface {
	Call(ctx context.Context, storeID string, req gateway.Request) (*gateway.Response, error)
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID, storeID string) (*reconcile.Report, error)
}

// BudgetService is the slice of the budget breaker handlers consume.
type BudgetService interface {
	Consume(ctx context.Context, tenantID, budgetType string, storeID *string, amount float64) (*domain.Budget, error)
	CheckTenant(ctx context.Context, tenantID string) error
}

// Set bundles the dependencies of the built-in handlers.
type Set struct {
	Listings       ListingRepository
	Gateway        Caller
	Reconciler     Reconciler
	Budgets        BudgetService
	Auditor        *audit.Recorder
	Logger         *slog.Logger
	AuditRetention time.Duration
}

// RegisterAll binds every built-in handler to the registry.
func (s *Set) RegisterAll(registry *jobs.Registry) error {
	bind := map[string]jobs.HandlerFunc{
		domain.JobTypeProductSync:    s.productSync,
		domain.JobTypeListingPublish: s.listingPublish,
		domain.JobTypeInventorySync:  s.inventorySync,
		domain.JobTypeReconciliation: s.reconciliation,
		domain.JobTypeBudgetCheck:    s.budgetCheck,
		domain.JobTypeAuditPrune:     s.auditPrune,
	}
	for _, platform := range domain.KnownPlatforms {
		bind[domain.WebhookJobType(platform)] = s.webhookProcess
	}
	for jobType, h := range bind {
		if err := registry.Register(jobType, h); err != nil {
			return err
		}
	}
	return nil
}

// mapGatewayErr converts gateway failures into the engine's retry taxonomy.
func mapGatewayErr(err error) error {
	if rl, ok := gateway.AsRateLimited(err); ok {
		return jobs.RateLimitedError{RetryAfter: rl.RetryAfter, Err: err}
	}
	if ue, ok := gateway.AsUpstream(err); ok {
		if ue.Transient() {
			return jobs.Retryable(err)
		}
		return jobs.Permanent(err)
	}
	if errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrCredentialsMissing) {
		return jobs.Permanent(err)
	}
	return jobs.Retryable(err)
}

// consumeBudget charges a budget if one is configured. A frozen budget kills
// the job permanently; the freeze already raised its approval.
func (s *Set) consumeBudget(ctx context.Context, job *domain.Job, budgetType string, amount float64) error {
	_, err := s.Budgets.Consume(ctx, job.TenantID, budgetType, job.StoreID, amount)
	switch {
	case err == nil, errors.Is(err, domain.ErrBudgetNotFound):
		return nil
	case errors.Is(err, domain.ErrBudgetFrozen):
		return jobs.Permanent(err)
	default:
		return jobs.Retryable(err)
	}
}

func storeIDOf(job *domain.Job) (string, error) {
	if job.StoreID != nil && *job.StoreID != "" {
		return *job.StoreID, nil
	}
	if v, ok := job.Payload["store_id"].(string); ok && v != "" {
		return v, nil
	}
	return "", jobs.Permanent(fmt.Errorf("job %s carries no store_id", job.ID))
}

func stringArg(job *domain.Job, key string) (string, error) {
	v, ok := job.Payload[key].(string)
	if !ok || v == "" {
		return "", jobs.Permanent(fmt.Errorf("payload is missing %q", key))
	}
	return v, nil
}

// productSync pushes one listing's full state to the platform.
func (s *Set) productSync(ctx context.Context, job *domain.Job) (domain.Payload, error) {
	storeID, err := storeIDOf(job)
	if err != nil {
		return nil, err
	}
	listingID, err := stringArg(job, "listing_id")
	if err != nil {
		return nil, err
	}
	listing, err := s.Listings.GetListing(ctx, job.TenantID, listingID)
	if err != nil {
		return nil, jobs.Permanent(err)
	}
	if err := s.consumeBudget(ctx, job, "api_calls", 1); err != nil {
		return nil, err
	}

	if err := s.pushListing(ctx, storeID, listing); err != nil {
		return nil, err
	}
	return domain.Payload{"listing_id": listing.ID, "synced": true}, nil
}

// listingPublish publishes a draft listing and records the platform id it
// came back with.
func (s *Set) listingPublish(ctx context.Context, job *domain.Job) (domain.Payload, error) {
	storeID, err := storeIDOf(job)
	if err != nil {
		return nil, err
	}
	listingID, err := stringArg(job, "listing_id")
	if err != nil {
		return nil, err
	}
	listing, err := s.Listings.GetListing(ctx, job.TenantID, listingID)
	if err != nil {
		return nil, jobs.Permanent(err)
	}
	if err := s.consumeBudget(ctx, job, "publishes", 1); err != nil {
		return nil, err
	}

	if err := s.Listings.SetListingStatus(ctx, listing.ID, "publishing"); err != nil {
		return nil, jobs.Retryable(err)
	}

	resp, err := s.Gateway.Call(ctx, storeID, gateway.Request{
		Method: http.MethodPost,
		Path:   "/listings",
		Body: mustJSON(domain.Payload{
			"title":    listing.Title,
			"quantity": listing.Quantity,
			"price":    listing.Price,
		}),
	})
	if err != nil {
		// Leave the listing out of "publishing" so a retry starts clean.
		s.Listings.SetListingStatus(ctx, listing.ID, "draft")
		return nil, mapGatewayErr(err)
	}

	if externalID := extractID(resp.Body); externalID != "" {
		if err := s.Listings.SetListingExternalID(ctx, listing.ID, externalID); err != nil {
			return nil, jobs.Retryable(err)
		}
	}
	if err := s.Listings.SetListingStatus(ctx, listing.ID, "active"); err != nil {
		return nil, jobs.Retryable(err)
	}

	return domain.Payload{
		"listing_id":            listing.ID,
		"reconciliation_needed": true,
	}, nil
}

// inventorySync pushes local quantities for every listing of a store.
func (s *Set) inventorySync(ctx context.Context, job *domain.Job) (domain.Payload, error) {
	storeID, err := storeIDOf(job)
	if err != nil {
		return nil, err
	}
	listings, err := s.Listings.ListListingsByStore(ctx, job.TenantID, storeID)
	if err != nil {
		return nil, jobs.Retryable(err)
	}

	synced := 0
	for _, listing := range listings {
		if listing.ExternalID == nil || *listing.ExternalID == "" {
			continue
		}
		if err := s.consumeBudget(ctx, job, "api_calls", 1); err != nil {
			return nil, err
		}
		if err := s.pushListing(ctx, storeID, listing); err != nil {
			return domain.Payload{"synced": synced}, err
		}
		synced++
	}
	return domain.Payload{"synced": synced, "total": len(listings)}, nil
}

func (s *Set) pushListing(ctx context.Context, storeID string, listing *domain.Listing) error {
	path := "/listings"
	method := http.MethodPost
	if listing.ExternalID != nil && *listing.ExternalID != "" {
		path = "/listings/" + *listing.ExternalID
		method = http.MethodPut
	}
	_, err := s.Gateway.Call(ctx, storeID, gateway.Request{
		Method: method,
		Path:   path,
		Body: mustJSON(domain.Payload{
			"title":    listing.Title,
			"status":   listing.Status,
			"quantity": listing.Quantity,
			"price":    listing.Price,
		}),
	})
	if err != nil {
		return mapGatewayErr(err)
	}
	return nil
}

// reconciliation runs one drift scan for the job's store.
func (s *Set) reconciliation(ctx context.Context, job *domain.Job) (domain.Payload, error) {
	storeID, err := storeIDOf(job)
	if err != nil {
		return nil, err
	}
	report, err := s.Reconciler.Reconcile(ctx, job.TenantID, storeID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreNotFound) {
			return nil, jobs.Permanent(err)
		}
		return nil, mapGatewayErr(err)
	}

	result := domain.Payload{"discrepancies": len(report.Discrepancies)}
	for kind, count := range report.CountsByKind {
		result[string(kind)] = count
	}
	if report.ApprovalID != "" {
		result["approval_id"] = report.ApprovalID
	}
	return result, nil
}

// budgetCheck sweeps the tenant's budgets.
func (s *Set) budgetCheck(ctx context.Context, job *domain.Job) (domain.Payload, error) {
	if err := s.Budgets.CheckTenant(ctx, job.TenantID); err != nil {
		return nil, jobs.Retryable(err)
	}
	return domain.Payload{"checked": true}, nil
}

// auditPrune enforces the audit retention window.
func (s *Set) auditPrune(ctx context.Context, job *domain.Job) (domain.Payload, error) {
	retention := s.AuditRetention
	if retention <= 0 {
		retention = audit.MinRetention
	}
	pruned, err := s.Auditor.Prune(ctx, retention)
	if err != nil {
		return nil, jobs.Retryable(err)
	}
	return domain.Payload{"pruned": pruned}, nil
}

// webhookProcess applies a normalized platform event to local state.
// Unmapped resources complete as ignored; the delivery is already durable in
// the webhook event row.
func (s *Set) webhookProcess(ctx context.Context, job *domain.Job) (domain.Payload, error) {
	storeID, err := storeIDOf(job)
	if err != nil {
		return nil, err
	}
	resourceType, _ := job.Payload["resource_type"].(string)
	resourceID, _ := job.Payload["resource_id"].(string)
	action, _ := job.Payload["action"].(string)

	switch resourceType {
	case "product", "listing":
	default:
		return domain.Payload{"ignored": true, "resource_type": resourceType}, nil
	}
	if resourceID == "" {
		return domain.Payload{"ignored": true}, nil
	}

	listing, err := s.Listings.FindListingByExternalID(ctx, storeID, resourceID)
	if err != nil {
		if errors.Is(err, domain.ErrListingNotFound) {
			// A remote resource we do not track; reconciliation decides
			// whether that matters.
			return domain.Payload{"ignored": true, "reconciliation_needed": true}, nil
		}
		return nil, jobs.Retryable(err)
	}

	switch action {
	case "delete":
		if err := s.Listings.SetListingStatus(ctx, listing.ID, "removed_remotely"); err != nil {
			return nil, jobs.Retryable(err)
		}
	default:
		data, _ := job.Payload["data"].(map[string]any)
		if qty, ok := numberField(data, "inventory_quantity", "quantity"); ok {
			if err := s.Listings.SetListingQuantity(ctx, listing.ID, int(qty)); err != nil {
				return nil, jobs.Retryable(err)
			}
		}
	}

	return domain.Payload{"listing_id": listing.ID, "action": action}, nil
}

func mustJSON(p domain.Payload) []byte {
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}

func numberField(data map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := data[key].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

func extractID(body []byte) string {
	id := struct {
		ID any `json:"id"`
	}{}
	if err := json.Unmarshal(body, &id); err != nil {
		return ""
	}
	switch v := id.ID.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
