// Package gateway fronts all outbound platform API calls with per-store
// token-bucket rate limiting, GraphQL cost accounting and credential
// handling. It never waits out a limit; denied calls return a retry-after
// and the caller reschedules.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/domain"
	"github.com/merchkit/opshub/internal/infrastructure/keyseal"
	"github.com/merchkit/opshub/internal/infrastructure/observability"
)

const (
	userAgent = "opshub/1.0"

	// stateRetries bounds optimistic-concurrency retries on the rate-limit
	// state row.
	stateRetries = 5

	// maxResponseBytes caps buffered upstream response bodies.
	maxResponseBytes = 10 << 20

	// defaultUpstreamRetryAfter applies when a 429 carries no usable
	// Retry-After header.
	defaultUpstreamRetryAfter = 30 * time.Second
)

// StoreRepository is the persistence surface the gateway needs.
type StoreRepository interface {
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)

	// UpdateRateLimitState writes the bucket state if expectedVersion still
	// matches, returning the new version. domain.ErrVersionConflict means
	// another writer got there first.
	UpdateRateLimitState(ctx context.Context, storeID string, state domain.RateLimitState, expectedVersion int64) (int64, error)

	DeactivateStore(ctx context.Context, storeID string) error
}

// CredentialEscalator raises an operator approval when a store's credentials
// stop working.
type CredentialEscalator interface {
	EscalateCredentialFailure(ctx context.Context, store *domain.Store, reason string) error
}

// Request describes one outbound platform call. When GraphQL is set the body
// is built from the slimmed query and Method defaults to POST.
type Request struct {
	Method       string
	Path         string
	Query        url.Values
	Header       http.Header
	Body         []byte
	GraphQL      string
	KeepTypename bool
}

// Response is a successful platform call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Cost is the points or requests charged, after actual-cost settlement.
	Cost float64

	// Throttled signals that less than the configured fraction of the
	// primary bucket remains; callers should slow further enqueues.
	Throttled bool
}

// Options tune the gateway.
type Options struct {
	RequestTimeout    time.Duration
	ThrottleThreshold float64
}

func (o *Options) withDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.ThrottleThreshold <= 0 {
		o.ThrottleThreshold = 0.2
	}
}

// Gateway executes rate-limited platform calls. Safe for concurrent use.
type Gateway struct {
	stores    StoreRepository
	unsealer  keyseal.Unsealer
	escalator CredentialEscalator
	auditor   *audit.Recorder
	client    *http.Client
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// New wires a Gateway. The HTTP client carries otel instrumentation.
func New(stores StoreRepository, unsealer keyseal.Unsealer, escalator CredentialEscalator, auditor *audit.Recorder, logger *slog.Logger, opts Options) *Gateway {
	opts.withDefaults()
	return &Gateway{
		stores:    stores,
		unsealer:  unsealer,
		escalator: escalator,
		auditor:   auditor,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   opts.RequestTimeout,
		},
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Call executes one platform API call on behalf of a store.
func (g *Gateway) Call(ctx context.Context, storeID string, req Request) (*Response, error) {
	store, err := g.stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !store.IsActive {
		return nil, fmt.Errorf("%w: store %s is inactive", domain.ErrUnauthorized, storeID)
	}

	creds, err := g.unsealer.Unseal(ctx, store.Credentials)
	if err != nil {
		return nil, err
	}

	gql := ""
	estimate := 0.0
	if req.GraphQL != "" {
		gql = SlimQuery(req.GraphQL, req.KeepTypename)
		estimate = EstimateCost(gql)
	}
	charges := chargesFor(store.Platform, req.Path, estimate)

	remaining, err := g.reserve(ctx, store, charges)
	if err != nil {
		if rl, ok := AsRateLimited(err); ok {
			observability.GatewayRateLimited.WithLabelValues(string(store.Platform), rl.Bucket).Inc()
			g.auditor.Record(ctx, audit.Entry{
				TenantID:     store.TenantID,
				Action:       "gateway_rate_limited",
				ResourceType: "store",
				ResourceID:   &store.ID,
				Metadata: domain.Payload{
					"bucket":      rl.Bucket,
					"retry_after": rl.RetryAfter.Seconds(),
					"path":        req.Path,
				},
				Tags: []string{domain.AuditTagRateLimiting},
			})
		}
		return nil, err
	}

	status, header, body, err := g.do(ctx, store.Platform, creds, req, gql)
	if err != nil {
		observability.GatewayCalls.WithLabelValues(string(store.Platform), "network_error").Inc()
		return nil, fmt.Errorf("platform call failed: %w", err)
	}

	cost := totalCost(charges)

	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(header.Get("Retry-After"))
		g.syncAfterUpstreamLimit(ctx, store, charges)
		observability.GatewayCalls.WithLabelValues(string(store.Platform), "rate_limited").Inc()
		g.auditor.Record(ctx, audit.Entry{
			TenantID:     store.TenantID,
			Action:       "upstream_rate_limited",
			ResourceType: "store",
			ResourceID:   &store.ID,
			Metadata: domain.Payload{
				"path":        req.Path,
				"retry_after": retryAfter.Seconds(),
			},
			Tags: []string{domain.AuditTagExternalRateLimit},
		})
		return nil, RateLimitedError{RetryAfter: retryAfter, Bucket: primaryBucket(store.Platform).name, Upstream: true}

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		g.handleCredentialFailure(ctx, store, status)
		return nil, fmt.Errorf("%w: platform returned %d", domain.ErrUnauthorized, status)

	case status == http.StatusNotFound:
		observability.GatewayCalls.WithLabelValues(string(store.Platform), "not_found").Inc()
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, req.Method, req.Path)

	case status >= 400:
		outcome := "upstream_4xx"
		if status >= 500 {
			outcome = "upstream_5xx"
		}
		observability.GatewayCalls.WithLabelValues(string(store.Platform), outcome).Inc()
		return nil, UpstreamError{StatusCode: status, Body: body}
	}

	if gql != "" {
		if actual, ok := actualQueryCost(body); ok && actual != estimate {
			remaining = g.settleActualCost(ctx, store, primaryBucket(store.Platform), actual-estimate, remaining)
			cost = actual
		}
	}

	primary := primaryBucket(store.Platform)
	throttled := remaining < g.opts.ThrottleThreshold*primary.capacity

	observability.GatewayCalls.WithLabelValues(string(store.Platform), "success").Inc()
	g.auditor.Record(ctx, audit.Entry{
		TenantID:     store.TenantID,
		Action:       "platform_api_call",
		ResourceType: "store",
		ResourceID:   &store.ID,
		Metadata: domain.Payload{
			"path":             req.Path,
			"method":           methodOf(req),
			"cost":             cost,
			"bucket_remaining": remaining,
		},
		Tags: []string{domain.AuditTagAPICall},
	})

	return &Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
		Cost:       cost,
		Throttled:  throttled,
	}, nil
}

// reserve debits every charge inside one per-store critical section. On a
// denial nothing stays consumed and the failing bucket's wait is returned.
func (g *Gateway) reserve(ctx context.Context, store *domain.Store, charges []charge) (float64, error) {
	for attempt := 0; attempt < stateRetries; attempt++ {
		now := g.now()
		state := store.RateLimit

		buckets := make([]*domain.TokenBucket, len(charges))
		for i, c := range charges {
			b := state.Bucket(c.spec.name, c.spec.capacity, c.spec.refill, now)
			b.Refill(now)
			buckets[i] = b
		}

		denied := -1
		for i, c := range charges {
			if !buckets[i].TryConsume(c.cost) {
				denied = i
				break
			}
		}
		if denied >= 0 {
			for j := 0; j < denied; j++ {
				buckets[j].Refund(charges[j].cost)
			}
			retryAfter := buckets[denied].RetryAfter(charges[denied].cost)
			// Persist the refill so observers see fresh token counts; a
			// conflict here is harmless.
			if v, err := g.stores.UpdateRateLimitState(ctx, store.ID, state, store.StateVersion); err == nil {
				store.StateVersion = v
			}
			return 0, RateLimitedError{RetryAfter: retryAfter, Bucket: charges[denied].spec.name}
		}

		newVersion, err := g.stores.UpdateRateLimitState(ctx, store.ID, state, store.StateVersion)
		if err == nil {
			store.StateVersion = newVersion
			return buckets[0].Tokens, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return 0, fmt.Errorf("failed to persist rate limit state: %w", err)
		}

		fresh, err := g.stores.GetStore(ctx, store.ID)
		if err != nil {
			return 0, err
		}
		store.RateLimit = fresh.RateLimit
		store.StateVersion = fresh.StateVersion
	}
	return 0, fmt.Errorf("rate limit state contention on store %s", store.ID)
}

// settleActualCost reconciles the pre-flight estimate against the platform's
// reported cost. Best effort; a lost race only skews one call's bookkeeping.
func (g *Gateway) settleActualCost(ctx context.Context, store *domain.Store, spec bucketSpec, delta, remaining float64) float64 {
	for attempt := 0; attempt < stateRetries; attempt++ {
		now := g.now()
		state := store.RateLimit
		b := state.Bucket(spec.name, spec.capacity, spec.refill, now)
		b.Refill(now)
		b.Tokens = math.Min(b.Capacity, math.Max(0, b.Tokens-delta))

		newVersion, err := g.stores.UpdateRateLimitState(ctx, store.ID, state, store.StateVersion)
		if err == nil {
			store.StateVersion = newVersion
			return b.Tokens
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			g.logger.WarnContext(ctx, "failed to settle actual query cost", "store_id", store.ID, "error", err)
			return remaining
		}
		fresh, gerr := g.stores.GetStore(ctx, store.ID)
		if gerr != nil {
			return remaining
		}
		store.RateLimit = fresh.RateLimit
		store.StateVersion = fresh.StateVersion
	}
	return remaining
}

// syncAfterUpstreamLimit empties the charged buckets so local bookkeeping
// stops admitting calls the platform would refuse anyway.
func (g *Gateway) syncAfterUpstreamLimit(ctx context.Context, store *domain.Store, charges []charge) {
	for attempt := 0; attempt < stateRetries; attempt++ {
		now := g.now()
		state := store.RateLimit
		for _, c := range charges {
			b := state.Bucket(c.spec.name, c.spec.capacity, c.spec.refill, now)
			b.Tokens = 0
			b.LastRefill = now
		}
		newVersion, err := g.stores.UpdateRateLimitState(ctx, store.ID, state, store.StateVersion)
		if err == nil {
			store.StateVersion = newVersion
			return
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			g.logger.WarnContext(ctx, "failed to sync upstream rate limit", "store_id", store.ID, "error", err)
			return
		}
		fresh, gerr := g.stores.GetStore(ctx, store.ID)
		if gerr != nil {
			return
		}
		store.RateLimit = fresh.RateLimit
		store.StateVersion = fresh.StateVersion
	}
}

func (g *Gateway) handleCredentialFailure(ctx context.Context, store *domain.Store, status int) {
	observability.GatewayCalls.WithLabelValues(string(store.Platform), "unauthorized").Inc()

	if err := g.stores.DeactivateStore(ctx, store.ID); err != nil {
		g.logger.ErrorContext(ctx, "failed to deactivate store after auth failure",
			"store_id", store.ID, "error", err)
	}
	reason := fmt.Sprintf("platform rejected credentials with status %d", status)
	if g.escalator != nil {
		if err := g.escalator.EscalateCredentialFailure(ctx, store, reason); err != nil {
			g.logger.ErrorContext(ctx, "failed to escalate credential failure",
				"store_id", store.ID, "error", err)
		}
	}
	g.auditor.Record(ctx, audit.Entry{
		TenantID:     store.TenantID,
		Action:       "store_deactivated",
		ResourceType: "store",
		ResourceID:   &store.ID,
		Metadata:     domain.Payload{"reason": reason},
		Tags:         []string{domain.AuditTagSecurity, domain.AuditTagAuthentication},
	})
	g.logger.WarnContext(ctx, "store deactivated after credential failure",
		"store_id", store.ID, "status", status)
}

func (g *Gateway) do(ctx context.Context, platform domain.Platform, creds *domain.Credentials, req Request, gql string) (int, http.Header, []byte, error) {
	base := creds.APIBase
	if base == "" {
		base = defaultAPIBase(platform, creds)
	}
	if base == "" {
		return 0, nil, nil, fmt.Errorf("%w: no API base for platform %s", domain.ErrCredentialsMissing, platform)
	}

	target := base + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	body := req.Body
	method := methodOf(req)
	if gql != "" {
		encoded, err := json.Marshal(map[string]string{"query": gql})
		if err != nil {
			return 0, nil, nil, fmt.Errorf("failed to encode query: %w", err)
		}
		body = encoded
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if platform == domain.PlatformShopify {
		httpReq.Header.Set("X-Shopify-Access-Token", creds.AccessToken)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

func defaultAPIBase(platform domain.Platform, creds *domain.Credentials) string {
	switch platform {
	case domain.PlatformShopify:
		if creds.ShopDomain == "" {
			return ""
		}
		return "https://" + creds.ShopDomain
	case domain.PlatformPrintify:
		return "https://api.printify.com"
	case domain.PlatformEtsy:
		return "https://openapi.etsy.com"
	case domain.PlatformAmazon:
		return "https://sellingpartnerapi-na.amazon.com"
	case domain.PlatformGumroad:
		return "https://api.gumroad.com"
	default:
		return ""
	}
}

func methodOf(req Request) string {
	if req.Method != "" {
		return req.Method
	}
	if req.GraphQL != "" {
		return http.MethodPost
	}
	return http.MethodGet
}

func totalCost(charges []charge) float64 {
	var total float64
	for _, c := range charges {
		total += c.cost
	}
	return total
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultUpstreamRetryAfter
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return defaultUpstreamRetryAfter
}
