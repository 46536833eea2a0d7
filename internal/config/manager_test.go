package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_KEY", "test-auth-key-0123456789")
	t.Setenv("SESSION_API_URL", "http://sessions.example.com/api")
}

// TestNewManager_Defaults tests that defaults apply when only required
// variables are set
func TestNewManager_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cm, err := NewManager()
	require.NoError(t, err)

	server := cm.GetEffectiveServerConfig()
	assert.Equal(t, 3001, server.Port)
	assert.Equal(t, "0.0.0.0", server.Host)

	queue := cm.GetQueueConfig()
	assert.Equal(t, 3, queue.MaxRetryAttempts)
	assert.Equal(t, 10, queue.BatchSize)
	assert.Equal(t, time.Second, queue.RetryDelayBase)
	assert.Equal(t, 2, queue.RetryDelayMultiplier)
	assert.Equal(t, 7*24*time.Hour, queue.ExpirationTime)

	cache := cm.GetCacheConfig()
	assert.Equal(t, "schools_in", cache.KeyPrefix)
	assert.Equal(t, 200, cache.MemoryMaxEntries)

	network := cm.GetNetworkConfig()
	assert.Equal(t, 10*time.Second, network.ProbeInterval)
	assert.Equal(t, 3*time.Second, network.PingTimeout)
	assert.Equal(t, 30*time.Second, network.StabilityWindow)

	sync := cm.GetSyncConfig()
	assert.Equal(t, 30*time.Second, sync.AutoSyncInterval)
	assert.Equal(t, 5*time.Minute, sync.CleanupInterval)
	assert.Equal(t, 2*time.Second, sync.StabilityWait)
	assert.Equal(t, 3, sync.MaxSyncAttempts)
	assert.True(t, sync.GradualSync)

	remote := cm.GetRemoteConfig()
	assert.Equal(t, "http://sessions.example.com/api", remote.BaseURL)
	assert.Equal(t, 15*time.Second, remote.RequestTimeout)

	assert.Equal(t, "./data/schools-in.db", cm.GetDatabaseConfig().DSN)
	assert.Empty(t, cm.GetRedisDSN())
}

// TestNewManager_HealthURLDerivedFromSessionAPI tests the probe URL default
func TestNewManager_HealthURLDerivedFromSessionAPI(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_API_URL", "http://sessions.example.com/api/")

	cm, err := NewManager()
	require.NoError(t, err)

	assert.Equal(t, "http://sessions.example.com/api/health", cm.GetNetworkConfig().HealthURL)
}

// TestNewManager_ExplicitHealthURL tests that an explicit probe URL wins
func TestNewManager_ExplicitHealthURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NETWORK_HEALTH_URL", "http://probe.example.com/ping")

	cm, err := NewManager()
	require.NoError(t, err)

	assert.Equal(t, "http://probe.example.com/ping", cm.GetNetworkConfig().HealthURL)
}

// TestNewManager_Overrides tests environment overrides
func TestNewManager_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("QUEUE_MAX_RETRY_ATTEMPTS", "5")
	t.Setenv("QUEUE_BATCH_SIZE", "25")
	t.Setenv("QUEUE_RETRY_DELAY_BASE", "500ms")
	t.Setenv("SYNC_AUTO_INTERVAL", "60")
	t.Setenv("SYNC_GRADUAL", "false")
	t.Setenv("CACHE_KEY_PREFIX", "acme")
	t.Setenv("REDIS_DSN", "redis://localhost:6379/0")

	cm, err := NewManager()
	require.NoError(t, err)

	assert.Equal(t, 8080, cm.GetEffectiveServerConfig().Port)

	queue := cm.GetQueueConfig()
	assert.Equal(t, 5, queue.MaxRetryAttempts)
	assert.Equal(t, 25, queue.BatchSize)
	assert.Equal(t, 500*time.Millisecond, queue.RetryDelayBase)

	// Bare integers are interpreted as seconds
	sync := cm.GetSyncConfig()
	assert.Equal(t, time.Minute, sync.AutoSyncInterval)
	assert.False(t, sync.GradualSync)

	assert.Equal(t, "acme", cm.GetCacheConfig().KeyPrefix)
	assert.Equal(t, "redis://localhost:6379/0", cm.GetRedisDSN())
}

// TestNewManager_Validation tests fatal misconfiguration detection
func TestNewManager_Validation(t *testing.T) {
	t.Run("missing auth key", func(t *testing.T) {
		t.Setenv("AUTH_KEY", "")
		t.Setenv("SESSION_API_URL", "http://sessions.example.com")

		_, err := NewManager()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AUTH_KEY")
	})

	t.Run("short auth key", func(t *testing.T) {
		t.Setenv("AUTH_KEY", "short")
		t.Setenv("SESSION_API_URL", "http://sessions.example.com")

		_, err := NewManager()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "16 characters")
	})

	t.Run("missing session api url", func(t *testing.T) {
		t.Setenv("AUTH_KEY", "test-auth-key-0123456789")
		t.Setenv("SESSION_API_URL", "")

		_, err := NewManager()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SESSION_API_URL")
	})

	t.Run("invalid port", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PORT", "99999")

		_, err := NewManager()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PORT")
	})

	t.Run("invalid batch size", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("QUEUE_BATCH_SIZE", "0")

		_, err := NewManager()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUEUE_BATCH_SIZE")
	})
}

// TestManager_ReloadConfig tests picking up changed environment values
func TestManager_ReloadConfig(t *testing.T) {
	setRequiredEnv(t)

	cm, err := NewManager()
	require.NoError(t, err)
	assert.Equal(t, 10, cm.GetQueueConfig().BatchSize)

	t.Setenv("QUEUE_BATCH_SIZE", "42")
	require.NoError(t, cm.ReloadConfig())
	assert.Equal(t, 42, cm.GetQueueConfig().BatchSize)
}
