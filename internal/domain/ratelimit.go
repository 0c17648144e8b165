package domain

import (
	"math"
	"time"
)

// TokenBucket is the classical rate-limit primitive, persisted as part of a
// store's rate-limit state. Tokens refill continuously at RefillPerSecond up
// to Capacity; each outbound call consumes a cost.
type TokenBucket struct {
	Tokens          float64   `json:"tokens"`
	Capacity        float64   `json:"capacity"`
	RefillPerSecond float64   `json:"refill_per_second"`
	LastRefill      time.Time `json:"last_refill"`
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(capacity, refillPerSecond float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		Tokens:          capacity,
		Capacity:        capacity,
		RefillPerSecond: refillPerSecond,
		LastRefill:      now,
	}
}

// Refill accrues tokens for the elapsed time since the last refill,
// truncated at capacity. A zero or negative elapsed interval leaves the
// bucket unchanged apart from the timestamp.
func (b *TokenBucket) Refill(now time.Time) {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed > 0 {
		b.Tokens = math.Min(b.Capacity, b.Tokens+elapsed*b.RefillPerSecond)
	}
	b.LastRefill = now
}

// TryConsume removes cost tokens if available. It does not refill; callers
// refill first so that consumption across multiple buckets observes one
// consistent clock.
func (b *TokenBucket) TryConsume(cost float64) bool {
	if b.Tokens < cost {
		return false
	}
	b.Tokens -= cost
	return true
}

// Refund returns previously consumed tokens, truncated at capacity. Used
// when a secondary bucket rejects a call the primary already paid for.
func (b *TokenBucket) Refund(cost float64) {
	b.Tokens = math.Min(b.Capacity, b.Tokens+cost)
}

// RetryAfter returns how long until the bucket can cover cost. A cost above
// capacity can never be satisfied by waiting on a partial deficit, so the
// full capacity refill time is returned.
func (b *TokenBucket) RetryAfter(cost float64) time.Duration {
	if b.RefillPerSecond <= 0 {
		return 0
	}
	deficit := cost - b.Tokens
	if cost > b.Capacity {
		deficit = b.Capacity
	}
	if deficit <= 0 {
		return 0
	}
	secs := math.Ceil(deficit / b.RefillPerSecond)
	return time.Duration(secs) * time.Second
}

// RateLimitState is the set of named token buckets persisted on a store
// row. The platform gateway owns this struct; every read-modify-write is
// serialized per store through optimistic concurrency on the row version.
type RateLimitState struct {
	Buckets map[string]*TokenBucket `json:"buckets"`
}

// Bucket returns the named bucket, creating it from the given defaults if
// the persisted state predates the bucket's introduction.
func (s *RateLimitState) Bucket(name string, capacity, refillPerSecond float64, now time.Time) *TokenBucket {
	if s.Buckets == nil {
		s.Buckets = make(map[string]*TokenBucket)
	}
	b, ok := s.Buckets[name]
	if !ok {
		b = NewTokenBucket(capacity, refillPerSecond, now)
		s.Buckets[name] = b
	}
	return b
}
