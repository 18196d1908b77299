package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\ndatabase:\n  dsn: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "database", cfg.Presence.Backend)
	assert.Equal(t, 120*time.Second, cfg.Presence.HeartbeatTTL)
	assert.Equal(t, 10*time.Second, cfg.Realtime.CommandTimeout)
	assert.Equal(t, 30*time.Second, cfg.Visibility.RelationshipCacheTTL)
	assert.Equal(t, "user_id", cfg.Auth.UserClaim)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	require.NotNil(t, cfg.Presence.OfflineOnDisconnect)
	assert.True(t, *cfg.Presence.OfflineOnDisconnect)
}

func TestLoad_KeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
presence:
  backend: redis
  heartbeat_ttl_seconds: 15
  offline_on_disconnect: false
realtime:
  command_timeout_seconds: 3
worker_pool:
  size: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Presence.Backend)
	assert.Equal(t, 15*time.Second, cfg.Presence.HeartbeatTTL)
	assert.False(t, *cfg.Presence.OfflineOnDisconnect)
	assert.Equal(t, 3*time.Second, cfg.Realtime.CommandTimeout)
	assert.Equal(t, 4, cfg.WorkerPool.Size)
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DATABASE_DSN", "file::memory:")
	path := writeConfig(t, "auth:\n  jwt_secret: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "file::memory:", cfg.Database.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
