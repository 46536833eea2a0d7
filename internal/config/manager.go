// Package config provides environment-based configuration management.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"schools-in/internal/types"
	"schools-in/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Manager implements types.ConfigManager backed by environment variables.
type Manager struct {
	mu       sync.RWMutex
	server   types.ServerConfig
	auth     types.AuthConfig
	cors     types.CORSConfig
	log      types.LogConfig
	database types.DatabaseConfig
	redisDSN string
	queue    types.QueueConfig
	cache    types.CacheConfig
	network  types.NetworkConfig
	sync     types.SyncConfig
	remote   types.RemoteConfig
}

// NewManager creates a configuration manager, loading .env if present.
func NewManager() (types.ConfigManager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	m := &Manager{}
	if err := m.ReloadConfig(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReloadConfig re-reads all configuration from the environment.
func (m *Manager) ReloadConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.server = types.ServerConfig{
		Port:                    utils.ParseInteger(utils.GetEnvOrDefault("PORT", ""), 3001),
		Host:                    utils.GetEnvOrDefault("HOST", "0.0.0.0"),
		ReadTimeout:             utils.ParseInteger(utils.GetEnvOrDefault("SERVER_READ_TIMEOUT", ""), 60),
		WriteTimeout:            utils.ParseInteger(utils.GetEnvOrDefault("SERVER_WRITE_TIMEOUT", ""), 60),
		IdleTimeout:             utils.ParseInteger(utils.GetEnvOrDefault("SERVER_IDLE_TIMEOUT", ""), 120),
		GracefulShutdownTimeout: utils.ParseInteger(utils.GetEnvOrDefault("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", ""), 10),
	}

	m.auth = types.AuthConfig{
		Key: utils.GetEnvOrDefault("AUTH_KEY", ""),
	}

	m.cors = types.CORSConfig{
		Enabled:          utils.ParseBoolean(utils.GetEnvOrDefault("ENABLE_CORS", ""), true),
		AllowedOrigins:   strings.Split(utils.GetEnvOrDefault("ALLOWED_ORIGINS", "*"), ","),
		AllowedMethods:   strings.Split(utils.GetEnvOrDefault("ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"), ","),
		AllowedHeaders:   strings.Split(utils.GetEnvOrDefault("ALLOWED_HEADERS", "*"), ","),
		AllowCredentials: utils.ParseBoolean(utils.GetEnvOrDefault("ALLOW_CREDENTIALS", ""), false),
	}

	m.log = types.LogConfig{
		Level:      utils.GetEnvOrDefault("LOG_LEVEL", "info"),
		Format:     utils.GetEnvOrDefault("LOG_FORMAT", "text"),
		EnableFile: utils.ParseBoolean(utils.GetEnvOrDefault("LOG_ENABLE_FILE", ""), false),
		FilePath:   utils.GetEnvOrDefault("LOG_FILE_PATH", "./data/logs/app.log"),
	}

	m.database = types.DatabaseConfig{
		DSN: utils.GetEnvOrDefault("DATABASE_DSN", "./data/schools-in.db"),
	}

	m.redisDSN = utils.GetEnvOrDefault("REDIS_DSN", "")

	m.queue = types.QueueConfig{
		MaxRetryAttempts:     utils.ParseInteger(utils.GetEnvOrDefault("QUEUE_MAX_RETRY_ATTEMPTS", ""), 3),
		BatchSize:            utils.ParseInteger(utils.GetEnvOrDefault("QUEUE_BATCH_SIZE", ""), 10),
		RetryDelayBase:       utils.ParseDuration(utils.GetEnvOrDefault("QUEUE_RETRY_DELAY_BASE", ""), time.Second),
		RetryDelayMultiplier: utils.ParseInteger(utils.GetEnvOrDefault("QUEUE_RETRY_DELAY_MULTIPLIER", ""), 2),
		ExpirationTime:       utils.ParseDuration(utils.GetEnvOrDefault("QUEUE_EXPIRATION_TIME", ""), 7*24*time.Hour),
	}

	m.cache = types.CacheConfig{
		KeyPrefix:        utils.GetEnvOrDefault("CACHE_KEY_PREFIX", "schools_in"),
		MemoryMaxEntries: utils.ParseInteger(utils.GetEnvOrDefault("CACHE_MEMORY_MAX_ENTRIES", ""), 200),
	}

	m.network = types.NetworkConfig{
		HealthURL:       utils.GetEnvOrDefault("NETWORK_HEALTH_URL", ""),
		ProbeInterval:   utils.ParseDuration(utils.GetEnvOrDefault("NETWORK_PROBE_INTERVAL", ""), 10*time.Second),
		ProbeTimeout:    utils.ParseDuration(utils.GetEnvOrDefault("NETWORK_PROBE_TIMEOUT", ""), 5*time.Second),
		PingTimeout:     utils.ParseDuration(utils.GetEnvOrDefault("NETWORK_PING_TIMEOUT", ""), 3*time.Second),
		StabilityWindow: utils.ParseDuration(utils.GetEnvOrDefault("NETWORK_STABILITY_WINDOW", ""), 30*time.Second),
	}

	m.sync = types.SyncConfig{
		AutoSyncInterval: utils.ParseDuration(utils.GetEnvOrDefault("SYNC_AUTO_INTERVAL", ""), 30*time.Second),
		CleanupInterval:  utils.ParseDuration(utils.GetEnvOrDefault("SYNC_CLEANUP_INTERVAL", ""), 5*time.Minute),
		StabilityWait:    utils.ParseDuration(utils.GetEnvOrDefault("SYNC_STABILITY_WAIT", ""), 2*time.Second),
		MaxSyncAttempts:  utils.ParseInteger(utils.GetEnvOrDefault("SYNC_MAX_ATTEMPTS", ""), 3),
		SyncRetryDelay:   utils.ParseDuration(utils.GetEnvOrDefault("SYNC_RETRY_DELAY", ""), time.Second),
		GradualSync:      utils.ParseBoolean(utils.GetEnvOrDefault("SYNC_GRADUAL", ""), true),
	}

	m.remote = types.RemoteConfig{
		BaseURL:        utils.GetEnvOrDefault("SESSION_API_URL", ""),
		RequestTimeout: utils.ParseDuration(utils.GetEnvOrDefault("SESSION_API_TIMEOUT", ""), 15*time.Second),
		ConnectTimeout: utils.ParseDuration(utils.GetEnvOrDefault("SESSION_API_CONNECT_TIMEOUT", ""), 5*time.Second),
	}

	if m.network.HealthURL == "" && m.remote.BaseURL != "" {
		m.network.HealthURL = strings.TrimSuffix(m.remote.BaseURL, "/") + "/health"
	}

	return nil
}

// Validate checks configuration for fatal misconfiguration.
func (m *Manager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.server.Port < 1 || m.server.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", m.server.Port)
	}
	if m.auth.Key == "" {
		return fmt.Errorf("AUTH_KEY is required")
	}
	if len(m.auth.Key) < 16 {
		return fmt.Errorf("AUTH_KEY must be at least 16 characters")
	}
	if m.remote.BaseURL == "" {
		return fmt.Errorf("SESSION_API_URL is required")
	}
	if m.queue.MaxRetryAttempts < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRY_ATTEMPTS must be >= 0")
	}
	if m.queue.BatchSize < 1 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be >= 1")
	}
	if m.cache.MemoryMaxEntries < 1 {
		return fmt.Errorf("CACHE_MEMORY_MAX_ENTRIES must be >= 1")
	}
	return nil
}

func (m *Manager) GetAuthConfig() types.AuthConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auth
}

func (m *Manager) GetCORSConfig() types.CORSConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cors
}

func (m *Manager) GetLogConfig() types.LogConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log
}

func (m *Manager) GetDatabaseConfig() types.DatabaseConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.database
}

func (m *Manager) GetRedisDSN() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.redisDSN
}

func (m *Manager) GetEffectiveServerConfig() types.ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.server
}

func (m *Manager) GetQueueConfig() types.QueueConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue
}

func (m *Manager) GetCacheConfig() types.CacheConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache
}

func (m *Manager) GetNetworkConfig() types.NetworkConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.network
}

func (m *Manager) GetSyncConfig() types.SyncConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sync
}

func (m *Manager) GetRemoteConfig() types.RemoteConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remote
}

// DisplayServerConfig logs the effective configuration at startup.
func (m *Manager) DisplayServerConfig() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	storage := "sqlite"
	if strings.Contains(m.database.DSN, "@tcp(") {
		storage = "mysql"
	} else if strings.HasPrefix(m.database.DSN, "postgres") {
		storage = "postgres"
	}
	cacheBackend := "memory"
	if m.redisDSN != "" {
		cacheBackend = "redis"
	}

	logrus.Info("Schools-In offline sync core")
	logrus.Infof("  Listen:        %s:%d", m.server.Host, m.server.Port)
	logrus.Infof("  Session API:   %s", m.remote.BaseURL)
	logrus.Infof("  Action store:  %s", storage)
	logrus.Infof("  Durable cache: %s", cacheBackend)
	logrus.Infof("  Auto-sync:     %s", m.sync.AutoSyncInterval)
	logrus.Infof("  Retry budget:  %d attempts", m.queue.MaxRetryAttempts)
}
