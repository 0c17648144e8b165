package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/merchkit/opshub/internal/infrastructure/http/response"
)

// MaxBodyBytes limits request body size. The Content-Length check rejects
// oversized bodies early; MaxBytesReader still enforces the limit for chunked
// or misdeclared bodies. The body is buffered and replaced so handlers (and
// webhook signature verification) see the exact wire bytes.
func MaxBodyBytes(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				response.Error(w, "PAYLOAD_TOO_LARGE", "request body exceeds size limit", http.StatusRequestEntityTooLarge)
				return
			}

			body := http.MaxBytesReader(w, r.Body, maxBytes)
			buf, err := io.ReadAll(body)
			if err != nil {
				slog.WarnContext(r.Context(), "request body size limit exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"limit", maxBytes)
				response.Error(w, "PAYLOAD_TOO_LARGE", "request body exceeds size limit", http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(buf))
			next.ServeHTTP(w, r)
		})
	}
}
