package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3001", cfg.HTTP.Addr)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, -1, cfg.Redis.MaxRetries)
	assert.Equal(t, "keygate:", cfg.Credentials.KeyPrefix)
	assert.Equal(t, 30*24*time.Hour, cfg.Credentials.ExpiryGrace)
	assert.Equal(t, 5*time.Second, cfg.Sweeper.StartupDelay)
	assert.Equal(t, "02:00", cfg.Sweeper.DailyAt)
	assert.Equal(t, 4*time.Hour, cfg.Sweeper.Interval)
	assert.Equal(t, 7*24*time.Hour, cfg.Sweeper.ExpiringWithin)
	assert.Equal(t, 5, cfg.Admin.FailedAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Admin.Lockout)
	assert.False(t, cfg.ClickHouse.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoad_MergesUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
redis:
  addr: "redis:6380"
kafka:
  brokers: ["kafka:9092"]
sweeper:
  interval: 1h
admin:
  master_key: "from-file"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Sweeper.Interval)
	assert.Equal(t, "from-file", cfg.Admin.MasterKey)
	assert.True(t, cfg.Kafka.Enabled())
	// untouched keys keep their defaults
	assert.Equal(t, "02:00", cfg.Sweeper.DailyAt)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":3001", cfg.HTTP.Addr)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KEYGATE_ADMIN_MASTER_KEY", "from-env")
	t.Setenv("KEYGATE_REDIS_ADDR", "10.0.0.1:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.MasterKey)
	assert.Equal(t, "10.0.0.1:6379", cfg.Redis.Addr)
}
