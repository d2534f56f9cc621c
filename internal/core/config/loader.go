package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/steady/internal/resilience/retry"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables and applying defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	def := retry.DefaultConfig()
	if c.Retry.MaxRetries == nil {
		c.Retry.MaxRetries = &def.MaxRetries
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = def.InitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.Retry.OfflinePause == 0 {
		c.Retry.OfflinePause = retry.DefaultOfflinePause
	}

	if c.Network.ProbeInterval == 0 {
		c.Network.ProbeInterval = 5 * time.Second
	}
	if c.Network.ProbeTimeout == 0 {
		c.Network.ProbeTimeout = 3 * time.Second
	}
	if c.Network.PollInterval == 0 {
		c.Network.PollInterval = 5 * time.Second
	}
	if c.Network.OfflineThreshold == 0 {
		c.Network.OfflineThreshold = 3
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendMemory
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = 5 * time.Minute
	}
	if c.Realtime.Backend == "" {
		c.Realtime.Backend = BackendNone
	}
}

// Validate checks backend selections and query declarations.
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("cache backend redis requires redis.url"))
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("cache backend postgres requires database.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}

	switch c.Realtime.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("realtime backend redis requires redis.url"))
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("realtime backend postgres requires database.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown realtime backend %q", c.Realtime.Backend))
	}

	if *c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if len(c.Queries) > 0 && c.Source.BaseURL == "" {
		errs = append(errs, errors.New("queries require source.base_url"))
	}

	seen := make(map[string]bool, len(c.Queries))
	for i, q := range c.Queries {
		switch {
		case q.Key == "":
			errs = append(errs, fmt.Errorf("queries[%d]: key is required", i))
		case seen[q.Key]:
			errs = append(errs, fmt.Errorf("queries[%d]: duplicate key %q", i, q.Key))
		}
		seen[q.Key] = true
		if q.Path == "" {
			errs = append(errs, fmt.Errorf("queries[%d]: path is required", i))
		}
		if _, err := q.FallbackData(); err != nil {
			errs = append(errs, fmt.Errorf("queries[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// RetryPolicy returns the configured default retry policy.
func (c *AppConfig) RetryPolicy() retry.Config {
	return retry.Config{
		MaxRetries:        *c.Retry.MaxRetries,
		InitialDelay:      c.Retry.InitialDelay,
		MaxDelay:          c.Retry.MaxDelay,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
	}
}

// FallbackData decodes the fallback JSON document, or returns nil when none is set.
func (q QueryConfig) FallbackData() (any, error) {
	if q.Fallback == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(q.Fallback), &v); err != nil {
		return nil, fmt.Errorf("invalid fallback JSON: %w", err)
	}
	return v, nil
}
