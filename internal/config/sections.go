package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the HTTP intake and control-plane server.
type ServerConfig struct {
	Port            int           `env:"OPSHUB_HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"OPSHUB_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"OPSHUB_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `env:"OPSHUB_HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
	// MaxBodyBytes caps inbound webhook and API request bodies.
	MaxBodyBytes int64 `env:"OPSHUB_HTTP_MAX_BODY_BYTES" default:"1048576"`
	// IntakeRPS and IntakeBurst bound the per-process webhook intake rate.
	IntakeRPS   float64 `env:"OPSHUB_HTTP_INTAKE_RPS" default:"100"`
	IntakeBurst int     `env:"OPSHUB_HTTP_INTAKE_BURST" default:"200"`
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Port)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}

// StorageConfig configures the Postgres connection pool.
type StorageConfig struct {
	PostgresURL     string        `env:"OPSHUB_POSTGRES_URL"`
	MaxConns        int           `env:"OPSHUB_POSTGRES_MAX_CONNS" default:"10"`
	MinConns        int           `env:"OPSHUB_POSTGRES_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"OPSHUB_POSTGRES_MAX_CONN_LIFETIME" default:"1h"`
	ConnectTimeout  time.Duration `env:"OPSHUB_POSTGRES_CONNECT_TIMEOUT" default:"10s"`
	// RunMigrations applies embedded migrations on startup.
	RunMigrations bool `env:"OPSHUB_POSTGRES_RUN_MIGRATIONS" default:"true"`
}

func (c *StorageConfig) Validate() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("OPSHUB_POSTGRES_URL is required")
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max conns (%d) must be >= min conns (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}

// WorkerConfig configures the job engine worker loop.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed in parallel per process.
	Concurrency int `env:"OPSHUB_WORKER_CONCURRENCY" default:"5"`
	// ClaimBatchSize is the number of jobs claimed per poll.
	ClaimBatchSize int `env:"OPSHUB_WORKER_CLAIM_BATCH" default:"5"`
	// PollInterval is how long to sleep when no jobs are due.
	PollInterval time.Duration `env:"OPSHUB_WORKER_POLL_INTERVAL" default:"2s"`
	// LeaseTTL is how long a claim remains valid without a heartbeat.
	LeaseTTL time.Duration `env:"OPSHUB_WORKER_LEASE_TTL" default:"5m"`
	// HeartbeatInterval extends active leases; must be well under LeaseTTL.
	HeartbeatInterval time.Duration `env:"OPSHUB_WORKER_HEARTBEAT_INTERVAL" default:"1m"`
	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration `env:"OPSHUB_WORKER_MAX_BACKOFF" default:"5m"`
}

func (c *WorkerConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.ClaimBatchSize < 1 {
		return fmt.Errorf("claim batch size must be at least 1, got %d", c.ClaimBatchSize)
	}
	if c.HeartbeatInterval >= c.LeaseTTL {
		return fmt.Errorf("heartbeat interval (%s) must be shorter than lease TTL (%s)", c.HeartbeatInterval, c.LeaseTTL)
	}
	return nil
}

// GatewayConfig configures the outbound platform gateway.
type GatewayConfig struct {
	// RequestTimeout bounds each upstream HTTP call.
	RequestTimeout time.Duration `env:"OPSHUB_GATEWAY_REQUEST_TIMEOUT" default:"30s"`
	// ThrottleThreshold is the remaining-capacity fraction below which
	// responses are flagged as throttled.
	ThrottleThreshold float64 `env:"OPSHUB_GATEWAY_THROTTLE_THRESHOLD" default:"0.2"`
}

func (c *GatewayConfig) Validate() error {
	if c.ThrottleThreshold < 0 || c.ThrottleThreshold > 1 {
		return fmt.Errorf("throttle threshold must be in [0,1], got %g", c.ThrottleThreshold)
	}
	return nil
}

// WebhookConfig configures inbound webhook processing.
type WebhookConfig struct {
	// IngestTimeout is the ceiling on synchronous intake work; persistence
	// and fan-out must finish inside it.
	IngestTimeout time.Duration `env:"OPSHUB_WEBHOOK_INGEST_TIMEOUT" default:"10s"`
}

// SchedulerConfig configures the periodic maintenance loops.
type SchedulerConfig struct {
	ReconcileInterval     time.Duration `env:"OPSHUB_SCHED_RECONCILE_INTERVAL" default:"6h"`
	BudgetCheckInterval   time.Duration `env:"OPSHUB_SCHED_BUDGET_INTERVAL" default:"15m"`
	ApprovalSweepInterval time.Duration `env:"OPSHUB_SCHED_APPROVAL_SWEEP_INTERVAL" default:"5m"`
	AuditPruneInterval    time.Duration `env:"OPSHUB_SCHED_AUDIT_PRUNE_INTERVAL" default:"24h"`
}

// minAuditRetention mirrors the pruning floor in the audit package; the
// config layer rejects shorter windows instead of silently clamping them.
const minAuditRetention = 90 * 24 * time.Hour

// AuditConfig configures audit log retention.
type AuditConfig struct {
	// Retention is how long audit entries are kept before pruning.
	// 90 days is both the default and the minimum.
	Retention time.Duration `env:"OPSHUB_AUDIT_RETENTION" default:"2160h"`
}

func (c *AuditConfig) Validate() error {
	if c.Retention < minAuditRetention {
		return fmt.Errorf("audit retention must be at least %s, got %s", minAuditRetention, c.Retention)
	}
	return nil
}
