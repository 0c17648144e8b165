package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuditConfigRetentionFloor(t *testing.T) {
	c := &AuditConfig{Retention: 24 * time.Hour}
	require.Error(t, c.Validate(), "windows below 90 days must be rejected")

	c = &AuditConfig{Retention: 2160 * time.Hour}
	require.NoError(t, c.Validate())

	c = &AuditConfig{Retention: 365 * 24 * time.Hour}
	require.NoError(t, c.Validate())
}

func TestWorkerConfigHeartbeatMustFitLease(t *testing.T) {
	c := &WorkerConfig{
		Concurrency:       5,
		ClaimBatchSize:    5,
		LeaseTTL:          time.Minute,
		HeartbeatInterval: 2 * time.Minute,
	}
	require.Error(t, c.Validate())

	c.HeartbeatInterval = 20 * time.Second
	require.NoError(t, c.Validate())
}
