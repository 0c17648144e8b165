package domain

// Platform identifies an external commerce platform a store connects to.
type Platform string

const (
	PlatformShopify  Platform = "shopify"
	PlatformEtsy     Platform = "etsy"
	PlatformPrintify Platform = "printify"
	PlatformAmazon   Platform = "amazon"
	PlatformGumroad  Platform = "gumroad"
	PlatformKDP      Platform = "kdp"
)

// KnownPlatforms lists every platform the gateway and ingestor understand.
var KnownPlatforms = []Platform{
	PlatformShopify,
	PlatformEtsy,
	PlatformPrintify,
	PlatformAmazon,
	PlatformGumroad,
	PlatformKDP,
}

// IsKnownPlatform reports whether p is a platform this deployment supports.
func IsKnownPlatform(p Platform) bool {
	for _, known := range KnownPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final (only operator retry leaves it).
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job type discriminators shipped with the core engine. The engine itself is
// type-agnostic; handlers register against these strings.
const (
	JobTypeProductSync    = "product_sync"
	JobTypeListingPublish = "listing_publish"
	JobTypeInventorySync  = "inventory_sync"
	JobTypeReconciliation = "reconciliation"
	JobTypeBudgetCheck    = "budget_check"
	JobTypeAuditPrune     = "audit_prune"
)

// WebhookJobType returns the job type used for fan-out of an inbound
// webhook from the given platform, e.g. "webhook_shopify".
func WebhookJobType(p Platform) string {
	return "webhook_" + string(p)
}

// WebhookStatus is the processing state of an inbound webhook event.
type WebhookStatus string

const (
	WebhookStatusReceived   WebhookStatus = "received"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusProcessed  WebhookStatus = "processed"
	WebhookStatusFailed     WebhookStatus = "failed"
)

// ApprovalStatus is the state of an operator approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Approval actions used by the core subsystems.
const (
	ApprovalActionJobRetry             = "job_retry"
	ApprovalActionBudgetOverride       = "budget_override"
	ApprovalActionResolveDiscrepancies = "resolve_discrepancies"
	ApprovalActionCredentialReview     = "credential_review"
)

// BudgetPeriod is the accounting window of a budget circuit breaker.
type BudgetPeriod string

const (
	BudgetPeriodDaily   BudgetPeriod = "daily"
	BudgetPeriodWeekly  BudgetPeriod = "weekly"
	BudgetPeriodMonthly BudgetPeriod = "monthly"
)

// DiscrepancyKind classifies drift found by a reconciliation pass.
type DiscrepancyKind string

const (
	DiscrepancyMissingLocal   DiscrepancyKind = "missing_local"
	DiscrepancyMissingRemote  DiscrepancyKind = "missing_remote"
	DiscrepancyInventoryDrift DiscrepancyKind = "inventory_drift"
	DiscrepancyPriceDrift     DiscrepancyKind = "price_drift"
	DiscrepancyDataMismatch   DiscrepancyKind = "data_mismatch"
)

// Severity orders discrepancies for escalation. High and critical
// discrepancies require an operator approval before any correction.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RequiresApproval reports whether a discrepancy of this severity must be
// gated behind an operator decision.
func (s Severity) RequiresApproval() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Audit tags are a controlled vocabulary used for compliance reporting.
const (
	AuditTagDataModification  = "data_modification"
	AuditTagAccessControl     = "access_control"
	AuditTagAuthentication    = "authentication"
	AuditTagRateLimiting      = "rate_limiting"
	AuditTagSecurity          = "security"
	AuditTagWebhook           = "webhook"
	AuditTagAutomation        = "automation"
	AuditTagReconciliation    = "reconciliation"
	AuditTagDataIntegrity     = "data_integrity"
	AuditTagAPICall           = "api_call"
	AuditTagExternalRateLimit = "external_rate_limit"
)
