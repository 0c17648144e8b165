package config

import (
	"fmt"

	"github.com/merchkit/opshub/internal/env"
)

// Config holds the full application configuration for both binaries.
// Values load from OPSHUB_-prefixed environment variables; each nested
// section validates itself.
type Config struct {
	// Env is the deployment environment: dev or prod.
	Env string `env:"OPSHUB_ENV" default:"dev"`

	Server    ServerConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	Gateway   GatewayConfig
	Webhook   WebhookConfig
	Scheduler SchedulerConfig
	Audit     AuditConfig

	// OTelEnabled toggles OTLP export of logs, traces and metrics.
	OTelEnabled bool `env:"OPSHUB_OTEL_ENABLED" default:"false"`

	// CredentialsKey is the hex-encoded 32-byte AES key sealing store
	// credentials. Empty means plain JSON storage; prod requires a key.
	CredentialsKey string `env:"OPSHUB_CREDENTIALS_KEY"`
}

// Load parses environment variables into a Config struct and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-section constraints.
func (c *Config) Validate() error {
	switch c.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("unknown OPSHUB_ENV: %s", c.Env)
	}
	if c.Env == "prod" && c.CredentialsKey == "" {
		return fmt.Errorf("OPSHUB_CREDENTIALS_KEY is required in prod")
	}
	return nil
}
