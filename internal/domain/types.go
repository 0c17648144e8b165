package domain

import (
	"time"
)

// Payload is an opaque key/value document carried by jobs, approvals and
// audit entries. Each job handler declares and validates its own schema on
// entry; the engine never inspects it.
type Payload map[string]any

// Job is a unit of deferred work owned by the job engine. All fields except
// Status, Attempts, the claim fields and the terminal fields are immutable
// after enqueue.
type Job struct {
	ID             string
	TenantID       string
	StoreID        *string
	Type           string
	Payload        Payload
	Status         JobStatus
	Priority       int // 0 is most urgent, 100 least; default 5
	Attempts       int
	MaxAttempts    int
	ScheduledAt    time.Time
	ClaimedAt      *time.Time
	ClaimedBy      *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LastError      *string
	Result         Payload
	IdempotencyKey string
	CreatedAt      time.Time
}

// DefaultPriority is assigned when an enqueue request leaves priority unset.
const DefaultPriority = 5

// DefaultMaxAttempts is assigned when an enqueue request leaves it unset.
const DefaultMaxAttempts = 3

// WebhookEvent is the immutable record of one inbound platform callback.
// (StoreID, ExternalID, EventType) is the replay-dedup key.
type WebhookEvent struct {
	ID          string
	StoreID     string
	ExternalID  string
	EventType   string
	Payload     []byte
	Signature   *string
	Status      WebhookStatus
	ReceivedAt  time.Time
	ProcessedAt *time.Time
	Error       *string
}

// NormalizedEvent is the platform-independent form of a webhook payload.
// The normalizer is total: unknown topics become resource_type "unknown"
// with action "update".
type NormalizedEvent struct {
	EventType    string  `json:"event_type"`
	ResourceType string  `json:"resource_type"`
	ResourceID   string  `json:"resource_id"`
	Action       string  `json:"action"`
	Data         Payload `json:"data"`
}

// Approval is a human-in-the-loop gate for a sensitive action. Once decided,
// payload and decision are immutable.
type Approval struct {
	ID             string
	TenantID       string
	ResourceType   string
	ResourceID     string
	Action         string
	Payload        Payload
	RequestedBy    string
	Status         ApprovalStatus
	ExpiresAt      time.Time
	DecidedAt      *time.Time
	DecidedBy      *string
	DecisionReason *string
	CreatedAt      time.Time
}

// Budget is a circuit breaker for a quota-limited resource. When Current
// reaches Limit the budget freezes once per breach epoch and an operator
// approval is emitted.
type Budget struct {
	ID       string
	TenantID string
	StoreID  *string
	Type     string
	Period   BudgetPeriod
	Limit    float64
	Current  float64
	ResetAt  time.Time
	IsFrozen bool
}

// Breached reports whether the budget has consumed its full limit.
func (b Budget) Breached() bool {
	return b.Current >= b.Limit
}

// NextReset computes the period boundary following from.
func (b Budget) NextReset(from time.Time) time.Time {
	switch b.Period {
	case BudgetPeriodWeekly:
		return from.AddDate(0, 0, 7)
	case BudgetPeriodMonthly:
		return from.AddDate(0, 1, 0)
	default:
		return from.AddDate(0, 0, 1)
	}
}

// Store is one configured connection to an external platform. Credentials
// are an opaque sealed blob; unsealing is delegated to the key service.
// RateLimitState is owned by the platform gateway and serialized per store
// via StateVersion optimistic concurrency.
type Store struct {
	ID           string
	TenantID     string
	Platform     Platform
	Credentials  []byte
	RateLimit    RateLimitState
	StateVersion int64
	LastSyncedAt *time.Time
	IsActive     bool
}

// Credentials is the unsealed form of a store's credential blob. The core
// never logs any of these fields.
type Credentials struct {
	AccessToken   string `json:"access_token"`
	WebhookSecret string `json:"webhook_secret"`
	ShopDomain    string `json:"shop_domain,omitempty"`
	APIBase       string `json:"api_base,omitempty"`
}

// Listing is the local representation of a product as published to one
// store. Reconciliation compares it against the remote resource keyed by
// ExternalID.
type Listing struct {
	ID         string
	TenantID   string
	StoreID    string
	ExternalID *string
	Title      string
	Status     string
	Quantity   int
	Price      float64
	UpdatedAt  time.Time
}

// Discrepancy records one divergence between local and remote state found
// by a reconciliation pass. Discrepancies are advisory; nothing is corrected
// until an operator approves.
type Discrepancy struct {
	Kind       DiscrepancyKind `json:"kind"`
	Severity   Severity        `json:"severity"`
	ExternalID string          `json:"external_id,omitempty"`
	ListingID  string          `json:"listing_id,omitempty"`
	Detail     Payload         `json:"detail,omitempty"`
}

// AuditEntry is one append-only audit record. Entries are never updated or
// deleted before their retention window expires.
type AuditEntry struct {
	ID           string
	TenantID     string
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   *string
	OldValue     Payload
	NewValue     Payload
	Metadata     Payload
	Tags         []string
	ReceivedAt   time.Time
}

// ChangeEvent is pushed on the per-tenant notification stream whenever a
// job, approval or budget changes state. The stream coalesces; consumers
// re-fetch rather than patch.
type ChangeEvent struct {
	TenantID     string    `json:"-"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Action       string    `json:"action"`
	OccurredAt   time.Time `json:"occurred_at"`
}
