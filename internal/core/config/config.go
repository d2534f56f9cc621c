package config

import (
	"time"

	redisclient "github.com/vietddude/steady/internal/infra/redis"
	"github.com/vietddude/steady/internal/infra/source"
	"github.com/vietddude/steady/internal/infra/storage/postgres"
)

// Backend names for cache storage and change notifications.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Retry    RetryConfig        `yaml:"retry"`
	Network  NetworkConfig      `yaml:"network"`
	Cache    CacheConfig        `yaml:"cache"`
	Realtime RealtimeConfig     `yaml:"realtime"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Source   source.Config      `yaml:"source"`
	Queries  []QueryConfig      `yaml:"queries"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig holds the default retry policy.
type RetryConfig struct {
	MaxRetries        *int          `yaml:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	OfflinePause      time.Duration `yaml:"offline_pause"`
	Seed              uint64        `yaml:"seed"` // 0 = random jitter
}

// NetworkConfig holds connectivity detection settings.
type NetworkConfig struct {
	ProbeURL         string        `yaml:"probe_url"`  // HTTP HEAD target
	ProbeAddr        string        `yaml:"probe_addr"` // TCP host:port, used when probe_url is empty
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	OfflineThreshold int           `yaml:"offline_threshold"`
}

// CacheConfig holds persisted cache settings.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory, redis, postgres
	Namespace     string        `yaml:"namespace"`
	SchemaVersion string        `yaml:"schema_version"`
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RealtimeConfig selects the change-notification primitive.
type RealtimeConfig struct {
	Backend string `yaml:"backend"` // none, memory, redis, postgres
}

// QueryConfig declares a query served from the data source.
type QueryConfig struct {
	Key              string        `yaml:"key"`
	Path             string        `yaml:"path"`
	Topics           string        `yaml:"topics"` // comma-separated
	EventFilter      string        `yaml:"event_filter"`
	StaleTime        time.Duration `yaml:"stale_time"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	RetryOnReconnect bool          `yaml:"retry_on_reconnect"`
	NotifyOnError    *bool         `yaml:"notify_on_error"`
	Fallback         string        `yaml:"fallback"` // JSON document
}
