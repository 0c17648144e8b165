package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/merchkit/opshub/internal/infrastructure/http/response"
)

// IntakeLimit applies a process-wide token bucket to webhook intake so a
// burst of deliveries cannot starve the control API. Platforms retry
// rejected deliveries, so shedding here is safe.
func IntakeLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				response.TooManyRequests(w, "1")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
