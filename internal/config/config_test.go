package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10, cfg.Abuse.AutoBlockThreshold)
	assert.Equal(t, time.Hour, cfg.Abuse.AutoBlockDuration)
	assert.True(t, cfg.Queue.ReplayOnStart)
	assert.Equal(t, 10*time.Second, cfg.Delivery.BaseTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convoport.yaml")
	content := []byte(`
server:
  port: 9090
log:
  level: debug
redis:
  enabled: true
  addr: redis:6379
queue:
  path: /var/lib/convoport/queue
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "/var/lib/convoport/queue", cfg.Queue.Path)
	// Untouched sections keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONVOPORT_SERVER_PORT", "7070")
	t.Setenv("CONVOPORT_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convoport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRedisNeedsAddr(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())
}
