package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModePaper, cfg.TradingMode)
	assert.Equal(t, 100_000.0, cfg.PaperCash)
	assert.NotEmpty(t, cfg.HTTP.Addr)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
trading_mode: paper
paper_cash: 25000
redis_addr: localhost:6379
monitor:
  interval: 30s
rate_quotas:
  fmp:
    max_per_minute: 50
    max_per_day: 500
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25_000.0, cfg.PaperCash)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "30s", cfg.Monitor.Interval.String())
	assert.Equal(t, 50, cfg.RateQuotas["fmp"].MaxPerMinute)
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	path := writeConfig(t, "trading_mode: live\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestEnvOverridesCredentials(t *testing.T) {
	t.Setenv("BROKER_KEY_ID", "key-from-env")
	t.Setenv("BROKER_SECRET_KEY", "secret-from-env")

	path := writeConfig(t, "trading_mode: live\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.Broker.KeyID)
	assert.Equal(t, "secret-from-env", cfg.Broker.SecretKey)
}

func TestInvalidModeRejected(t *testing.T) {
	path := writeConfig(t, "trading_mode: sandbox\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading_mode")
}

func TestBadQuotaRejected(t *testing.T) {
	path := writeConfig(t, `
trading_mode: paper
rate_quotas:
  fmp:
    max_per_minute: 0
    max_per_day: 100
`)
	_, err := Load(path)
	require.Error(t, err)
}
