// Package webhookin ingests platform webhooks: signature verification over
// the raw body, replay dedup on (store, external_id, event_type), durable
// event persistence and fan-out into the job engine.
package webhookin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/application/jobs"
	"github.com/merchkit/opshub/internal/domain"
	"github.com/merchkit/opshub/internal/infrastructure/keyseal"
	"github.com/merchkit/opshub/internal/infrastructure/observability"
)

// webhookJobPriority puts webhook fan-out behind interactive work but ahead
// of bulk syncs.
const webhookJobPriority = 10

// StoreRepository resolves stores for intake.
type StoreRepository interface {
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
}

// EventRepository persists webhook events. Insert must enforce the unique
// key on (store_id, external_id, event_type).
type EventRepository interface {
	FindWebhookEvent(ctx context.Context, storeID, externalID, eventType string) (*domain.WebhookEvent, error)
	InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
	SetWebhookStatus(ctx context.Context, id string, status domain.WebhookStatus, processedAt *time.Time, errMsg *string) error
}

// Enqueuer is the slice of the job engine the ingestor needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (*domain.Job, error)
}

// Result is the outcome of one accepted delivery.
type Result struct {
	WebhookID string
	Duplicate bool
}

// Ingestor runs the intake pipeline. Stateless; any number of replicas may
// accept deliveries concurrently.
type Ingestor struct {
	stores   StoreRepository
	events   EventRepository
	enqueuer Enqueuer
	unsealer keyseal.Unsealer
	auditor  *audit.Recorder
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewIngestor wires an Ingestor. timeout caps the whole pipeline per
// delivery; zero means 10s.
func NewIngestor(stores StoreRepository, events EventRepository, enqueuer Enqueuer, unsealer keyseal.Unsealer, auditor *audit.Recorder, logger *slog.Logger, timeout time.Duration) *Ingestor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ingestor{
		stores:   stores,
		events:   events,
		enqueuer: enqueuer,
		unsealer: unsealer,
		auditor:  auditor,
		logger:   logger,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Ingest processes one delivery. body must be the raw request body, buffered
// verbatim, since the signature covers the exact bytes on the wire.
func (in *Ingestor) Ingest(ctx context.Context, platform domain.Platform, storeID string, body []byte, header http.Header) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	store, err := in.stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if store.Platform != platform {
		return nil, fmt.Errorf("%w: store %s is not a %s store", domain.ErrStoreNotFound, storeID, platform)
	}

	if err := in.checkSignature(ctx, platform, store, body, header); err != nil {
		observability.WebhooksReceived.WithLabelValues(string(platform), "rejected").Inc()
		return nil, err
	}

	ex := extract(platform, body, header)

	// Replay check before insert keeps the common duplicate path cheap; the
	// unique key closes the race between concurrent replicas.
	if existing, err := in.events.FindWebhookEvent(ctx, store.ID, ex.ExternalID, ex.EventType); err == nil {
		in.recordReplay(ctx, store, existing)
		return &Result{WebhookID: existing.ID, Duplicate: true}, nil
	} else if !errors.Is(err, domain.ErrEventNotFound) {
		return nil, fmt.Errorf("failed to check for replay: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate event ID: %w", err)
	}
	sig := header.Get(signatureSchemes[platform].header)
	event := &domain.WebhookEvent{
		ID:         id.String(),
		StoreID:    store.ID,
		ExternalID: ex.ExternalID,
		EventType:  ex.EventType,
		Payload:    body,
		Status:     domain.WebhookStatusReceived,
		ReceivedAt: in.now(),
	}
	if sig != "" {
		event.Signature = &sig
	}

	if err := in.events.InsertWebhookEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			if existing, ferr := in.events.FindWebhookEvent(ctx, store.ID, ex.ExternalID, ex.EventType); ferr == nil {
				in.recordReplay(ctx, store, existing)
				return &Result{WebhookID: existing.ID, Duplicate: true}, nil
			}
		}
		return nil, fmt.Errorf("failed to persist webhook event: %w", err)
	}

	if err := in.fanOut(ctx, platform, store, event, ex); err != nil {
		errMsg := err.Error()
		in.events.SetWebhookStatus(ctx, event.ID, domain.WebhookStatusFailed, nil, &errMsg)
		observability.WebhooksReceived.WithLabelValues(string(platform), "failed").Inc()
		return nil, err
	}

	processedAt := in.now()
	if err := in.events.SetWebhookStatus(ctx, event.ID, domain.WebhookStatusProcessed, &processedAt, nil); err != nil {
		return nil, fmt.Errorf("failed to finalize webhook event: %w", err)
	}

	observability.WebhooksReceived.WithLabelValues(string(platform), "accepted").Inc()
	in.auditor.Record(ctx, audit.Entry{
		TenantID:     store.TenantID,
		Action:       "webhook_received",
		ResourceType: "webhook_event",
		ResourceID:   &event.ID,
		Metadata:     domain.Payload{"event_type": ex.EventType, "external_id": ex.ExternalID},
		Tags:         []string{domain.AuditTagWebhook},
	})
	in.logger.InfoContext(ctx, "webhook ingested",
		"platform", platform, "store_id", store.ID,
		"event_type", ex.EventType, "webhook_id", event.ID)

	return &Result{WebhookID: event.ID}, nil
}

func (in *Ingestor) checkSignature(ctx context.Context, platform domain.Platform, store *domain.Store, body []byte, header http.Header) error {
	creds, err := in.unsealer.Unseal(ctx, store.Credentials)
	if err != nil && !errors.Is(err, domain.ErrCredentialsMissing) {
		return err
	}

	// A store with no configured secret accepts unsigned deliveries, but
	// the gap is audited.
	if creds == nil || creds.WebhookSecret == "" {
		in.auditor.Record(ctx, audit.Entry{
			TenantID:     store.TenantID,
			Action:       "signature_verification_skipped",
			ResourceType: "store",
			ResourceID:   &store.ID,
			Tags:         []string{domain.AuditTagSecurity, domain.AuditTagWebhook},
		})
		return nil
	}

	if err := verifySignature(platform, creds.WebhookSecret, body, header); err != nil {
		in.auditor.Record(ctx, audit.Entry{
			TenantID:     store.TenantID,
			Action:       "signature_verification_failed",
			ResourceType: "store",
			ResourceID:   &store.ID,
			Tags:         []string{domain.AuditTagSecurity, domain.AuditTagAuthentication, domain.AuditTagWebhook},
		})
		in.logger.WarnContext(ctx, "webhook signature rejected",
			"platform", platform, "store_id", store.ID)
		return err
	}
	return nil
}

func (in *Ingestor) fanOut(ctx context.Context, platform domain.Platform, store *domain.Store, event *domain.WebhookEvent, ex extracted) error {
	if err := in.events.SetWebhookStatus(ctx, event.ID, domain.WebhookStatusProcessing, nil, nil); err != nil {
		return fmt.Errorf("failed to mark webhook processing: %w", err)
	}

	normalized := normalize(platform, ex)
	_, err := in.enqueuer.Enqueue(ctx, jobs.EnqueueRequest{
		TenantID: store.TenantID,
		StoreID:  &store.ID,
		Type:     domain.WebhookJobType(platform),
		Payload: domain.Payload{
			"webhook_id":    event.ID,
			"event_type":    normalized.EventType,
			"resource_type": normalized.ResourceType,
			"resource_id":   normalized.ResourceID,
			"action":        normalized.Action,
			"data":          normalized.Data,
		},
		Priority:       intPtr(webhookJobPriority),
		IdempotencyKey: fmt.Sprintf("webhook_%s_%s_%s_%s", platform, store.ID, ex.ExternalID, ex.EventType),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue webhook job: %w", err)
	}
	return nil
}

func (in *Ingestor) recordReplay(ctx context.Context, store *domain.Store, event *domain.WebhookEvent) {
	observability.WebhooksReceived.WithLabelValues(string(store.Platform), "replay").Inc()
	in.auditor.Record(ctx, audit.Entry{
		TenantID:     store.TenantID,
		Action:       "replay_detected",
		ResourceType: "webhook_event",
		ResourceID:   &event.ID,
		Metadata:     domain.Payload{"event_type": event.EventType, "external_id": event.ExternalID},
		Tags:         []string{domain.AuditTagSecurity, domain.AuditTagWebhook},
	})
}

func intPtr(v int) *int { return &v }
