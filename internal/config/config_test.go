package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "PROVIDER_HOSTS", "BINANCE_KEY", "BINANCE_SECRET",
		"RECV_WINDOW_MS", "PAGE_SIZE", "MAX_PAGES", "REQUEST_TIMEOUT",
		"CACHE_TTL", "INTERMEDIARY_URL", "FAILOVER_THRESHOLD",
		"FAILOVER_COOLDOWN", "MIN_APR_PERCENT", "MAX_STRIKES",
		"STRIKE_PRECISION", "DURATIONS", "CONFIG_FILE",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, defaultHosts, cfg.Hosts)
	assert.Equal(t, int64(60000), cfg.RecvWindow)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 3, cfg.MaxPages)
	assert.Equal(t, 2*time.Second, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.FailoverThreshold)
	assert.Equal(t, 5, cfg.MaxStrikes)
	assert.Equal(t, int32(2), cfg.StrikePrecision)
	assert.Empty(t, cfg.Durations)
	assert.Empty(t, cfg.IntermediaryURL)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PROVIDER_HOSTS", "https://a.example, https://b.example")
	t.Setenv("BINANCE_KEY", "k")
	t.Setenv("BINANCE_SECRET", "s")
	t.Setenv("CACHE_TTL", "5s")
	t.Setenv("DURATIONS", "3,7,14,oops,30")
	t.Setenv("MIN_APR_PERCENT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Hosts)
	assert.Equal(t, 5*time.Second, cfg.CacheTTL)
	assert.Equal(t, []int{3, 7, 14, 30}, cfg.Durations, "non-numeric entries skipped")
	assert.Equal(t, 2.5, cfg.MinAPRPercent)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_STRIKES", "7")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hosts:
  - https://pinned.example
durations: [3, 7]
restricted_markers:
  - "custom marker"
defaults:
  min_apr_percent: 1.5
  max_strikes: 10
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://pinned.example"}, cfg.Hosts)
	assert.Equal(t, []int{3, 7}, cfg.Durations)
	assert.Equal(t, []string{"custom marker"}, cfg.RestrictedMarkers)
	assert.Equal(t, 1.5, cfg.MinAPRPercent)
	assert.Equal(t, 10, cfg.MaxStrikes, "file overlay wins over the env value")
	assert.Equal(t, int32(2), cfg.StrikePrecision, "unset file fields keep env defaults")
}

func TestLoadBadConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{"BINANCE_KEY", "BINANCE_SECRET"}, verr.Missing)

	cfg.APIKey = "k"
	err = cfg.Validate()
	require.Error(t, err)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"BINANCE_SECRET"}, verr.Missing)

	cfg.APISecret = "s"
	assert.NoError(t, cfg.Validate())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_FLOAT", "1.25")
	t.Setenv("TEST_DUR", "90s")

	assert.Equal(t, 42, GetEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("TEST_BAD_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("TEST_UNSET", 1))
	assert.Equal(t, 1.25, GetEnvAsFloat("TEST_FLOAT", 0))
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvAsDuration("TEST_UNSET", time.Second))
}
