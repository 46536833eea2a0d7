package types

import "time"

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetAuthConfig() AuthConfig
	GetCORSConfig() CORSConfig
	GetLogConfig() LogConfig
	GetDatabaseConfig() DatabaseConfig
	GetRedisDSN() string
	GetEffectiveServerConfig() ServerConfig
	GetQueueConfig() QueueConfig
	GetCacheConfig() CacheConfig
	GetNetworkConfig() NetworkConfig
	GetSyncConfig() SyncConfig
	GetRemoteConfig() RemoteConfig
	Validate() error
	DisplayServerConfig()
	ReloadConfig() error
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Key string `json:"key"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// QueueConfig controls the durable action queue.
type QueueConfig struct {
	MaxRetryAttempts     int           `json:"max_retry_attempts"`
	BatchSize            int           `json:"batch_size"`
	RetryDelayBase       time.Duration `json:"retry_delay_base"`
	RetryDelayMultiplier int           `json:"retry_delay_multiplier"`
	ExpirationTime       time.Duration `json:"expiration_time"`
}

// CacheConfig controls the layered cache.
type CacheConfig struct {
	KeyPrefix        string `json:"key_prefix"`
	MemoryMaxEntries int    `json:"memory_max_entries"`
}

// NetworkConfig controls the network quality monitor.
type NetworkConfig struct {
	HealthURL       string        `json:"health_url"`
	ProbeInterval   time.Duration `json:"probe_interval"`
	ProbeTimeout    time.Duration `json:"probe_timeout"`
	PingTimeout     time.Duration `json:"ping_timeout"`
	StabilityWindow time.Duration `json:"stability_window"`
}

// SyncConfig controls the sync manager and restoration orchestrator.
type SyncConfig struct {
	AutoSyncInterval time.Duration `json:"auto_sync_interval"`
	CleanupInterval  time.Duration `json:"cleanup_interval"`
	StabilityWait    time.Duration `json:"stability_wait"`
	MaxSyncAttempts  int           `json:"max_sync_attempts"`
	SyncRetryDelay   time.Duration `json:"sync_retry_delay"`
	GradualSync      bool          `json:"gradual_sync"`
}

// RemoteConfig points at the remote session API.
type RemoteConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// NetworkStatus is a snapshot of the monitor's view of connectivity.
// It is derived state and never persisted.
type NetworkStatus struct {
	IsOnline          bool    `json:"is_online"`
	ConnectivityScore int     `json:"connectivity_score"`
	IsStable          bool    `json:"is_stable"`
	IsUnstable        bool    `json:"is_unstable"`
	EffectiveType     string  `json:"effective_type,omitempty"`
	DownlinkMbps      float64 `json:"downlink_mbps,omitempty"`
	RTTMillis         int     `json:"rtt_millis,omitempty"`
}
