// Package http owns the HTTP server: router assembly, global middleware and
// lifecycle.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/merchkit/opshub/internal/infrastructure/http/handler"
	mw "github.com/merchkit/opshub/internal/infrastructure/http/middleware"
)

// Default configuration values for the HTTP server.
const (
	DefaultPort              = 8080
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultMaxBodyBytes      = 1 << 20 // 1MB
	DefaultIntakeRPS         = 100.0
	DefaultIntakeBurst       = 200
)

// ServerConfig holds configuration for the HTTP server and router.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
	IntakeRPS    float64
	IntakeBurst  int
	Tracing      bool
}

func (cfg *ServerConfig) applyDefaults() {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.IntakeRPS <= 0 {
		cfg.IntakeRPS = DefaultIntakeRPS
	}
	if cfg.IntakeBurst <= 0 {
		cfg.IntakeBurst = DefaultIntakeBurst
	}
}

// Server wraps the HTTP server with router and middleware configured.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer builds the router around the API and configures the server.
func NewServer(api *handler.API, cfg ServerConfig, logger *slog.Logger) *Server {
	cfg.applyDefaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Tracing {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "opshub.http")
		})
	}
	r.Use(mw.MaxBodyBytes(cfg.MaxBodyBytes))

	r.Mount("/", api.Routes(cfg.IntakeRPS, cfg.IntakeBurst))

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
		},
		logger: logger,
	}
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
