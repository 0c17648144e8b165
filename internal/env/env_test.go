package env

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Name     string        `env:"ENVTEST_NAME" default:"fallback"`
	Port     int           `env:"ENVTEST_PORT" default:"8080"`
	Rate     float64       `env:"ENVTEST_RATE" default:"50.0"`
	Enabled  bool          `env:"ENVTEST_ENABLED" default:"true"`
	Interval time.Duration `env:"ENVTEST_INTERVAL" default:"30s"`
	NoTag    string
}

type nestedConfig struct {
	Inner sampleConfig
}

type validatedConfig struct {
	Port int `env:"ENVTEST_VPORT" default:"0"`
}

func (c *validatedConfig) Validate() error {
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func TestLoad_Defaults(t *testing.T) {
	var cfg sampleConfig
	require.NoError(t, Load(&cfg))

	require.Equal(t, "fallback", cfg.Name)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 50.0, cfg.Rate)
	require.True(t, cfg.Enabled)
	require.Equal(t, 30*time.Second, cfg.Interval)
	require.Empty(t, cfg.NoTag)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("ENVTEST_PORT", "9090")
	t.Setenv("ENVTEST_RATE", "2.5")
	t.Setenv("ENVTEST_INTERVAL", "1m30s")

	var cfg sampleConfig
	require.NoError(t, Load(&cfg))

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 2.5, cfg.Rate)
	require.Equal(t, 90*time.Second, cfg.Interval)
}

func TestLoad_NestedStruct(t *testing.T) {
	t.Setenv("ENVTEST_NAME", "nested")

	var cfg nestedConfig
	require.NoError(t, Load(&cfg))
	require.Equal(t, "nested", cfg.Inner.Name)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("ENVTEST_PORT", "not-a-number")

	var cfg sampleConfig
	err := Load(&cfg)
	require.Error(t, err)

	var invalid ErrInvalidValue
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "ENVTEST_PORT", invalid.EnvVar)
}

func TestLoad_ValidatorRuns(t *testing.T) {
	var cfg validatedConfig
	err := Load(&cfg)
	require.ErrorContains(t, err, "port must be positive")

	t.Setenv("ENVTEST_VPORT", "8080")
	require.NoError(t, Load(&cfg))
}

func TestLoad_RejectsNonPointer(t *testing.T) {
	var cfg sampleConfig
	err := Load(cfg)

	var notPtr ErrNotStructPointer
	require.ErrorAs(t, err, &notPtr)
}
