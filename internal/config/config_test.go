package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090

database:
  url: "postgres://localhost/mail_engine_test"
  max_open_conns: 10

dispatch:
  num_workers: 8
  batch_size: 100
  poll_interval_ms: 250
  attempt_timeout_seconds: 15
  default_esp: "mailgun"

rate_limit:
  per_second: 50
  burst: 100
  daily_quota: 100000

retry:
  base_delay_seconds: 2
  max_delay_seconds: 60
  max_retries: 5
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, "postgres://localhost/mail_engine_test", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)

	assert.Equal(t, 8, cfg.Dispatch.NumWorkers)
	assert.Equal(t, 100, cfg.Dispatch.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.PollInterval())
	assert.Equal(t, 15*time.Second, cfg.Dispatch.AttemptTimeout())
	assert.Equal(t, "mailgun", cfg.Dispatch.DefaultESP)

	assert.Equal(t, 50, cfg.RateLimit.PerSecond)
	assert.Equal(t, 100000, cfg.RateLimit.DailyQuota)

	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay())
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay())
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Dispatch.NumWorkers)
	assert.Equal(t, 50, cfg.Dispatch.BatchSize)
	assert.Equal(t, 14, cfg.RateLimit.PerSecond)
	assert.Equal(t, 50000, cfg.RateLimit.DailyQuota)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, "ses", cfg.Dispatch.DefaultESP)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://envhost/engine")
	t.Setenv("REDIS_URL", "redis://envhost:6379/1")
	t.Setenv("PORT", "3000")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://envhost/engine", cfg.Database.URL)
	assert.Equal(t, "redis://envhost:6379/1", cfg.Redis.URL)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [not a map"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}
