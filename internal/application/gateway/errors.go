package gateway

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is returned when a local bucket cannot cover the call or
// the platform answered 429. The gateway never sleeps the wait out; callers
// reschedule.
type RateLimitedError struct {
	RetryAfter time.Duration
	Bucket     string
	Upstream   bool
}

func (e RateLimitedError) Error() string {
	src := "local bucket"
	if e.Upstream {
		src = "platform"
	}
	return fmt.Sprintf("rate limited by %s %q, retry after %s", src, e.Bucket, e.RetryAfter)
}

// UpstreamError is a non-2xx platform response that is not a rate limit or
// auth failure.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

// Transient reports whether the upstream failure is worth retrying.
func (e UpstreamError) Transient() bool {
	return e.StatusCode >= 500
}

// AsRateLimited extracts a RateLimitedError from err.
func AsRateLimited(err error) (RateLimitedError, bool) {
	var rl RateLimitedError
	ok := errors.As(err, &rl)
	return rl, ok
}

// AsUpstream extracts an UpstreamError from err.
func AsUpstream(err error) (UpstreamError, bool) {
	var ue UpstreamError
	ok := errors.As(err, &ue)
	return ue, ok
}
