// Package config loads beat-fleet configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the full server configuration.
type Config struct {
	// LeaseURL is the lock backend target: redis:// for direct mode or a
	// ";"-separated sentinel:// node list for discovery mode.
	LeaseURL string

	// LeaseKey names the mutual-exclusion resource.
	LeaseKey string

	// LeaseTTL is how long the backend holds the lease absent renewal.
	LeaseTTL time.Duration

	// LeaseInterval is the renewal cadence and the host loop's tick cadence.
	LeaseInterval time.Duration

	// SentinelMaster names the logical primary in discovery mode.
	SentinelMaster string

	// SentinelPassword authenticates against the sentinel nodes.
	SentinelPassword string

	// RedisPassword authenticates against the resolved lease backend.
	RedisPassword string

	// RedisDB selects the database in discovery mode.
	RedisDB int

	// ScheduleFile is the YAML file defining periodic entries.
	ScheduleFile string

	// QueueAddr is the Redis server backing the task stream and run state.
	QueueAddr     string
	QueuePassword string
	QueueDB       int

	// Stream is the Redis Stream the scheduler dispatches task messages to.
	Stream string

	// StatePrefix prefixes entry run-state keys.
	StatePrefix string

	// HTTPPort serves /healthz, /readyz and /metrics.
	HTTPPort int

	// DatadogAddr enables the DogStatsD publisher when non-empty.
	DatadogAddr string

	// SecretsBackend selects credential resolution: "env" or "vault".
	SecretsBackend string

	LogLevel string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		LeaseURL:         getEnv("BEAT_FLEET_LEASE_URL", ""),
		LeaseKey:         getEnv("BEAT_FLEET_LEASE_KEY", "beat-fleet:leader"),
		LeaseTTL:         time.Duration(getEnvInt("BEAT_FLEET_LEASE_TTL", 60)) * time.Second,
		LeaseInterval:    time.Duration(getEnvInt("BEAT_FLEET_LEASE_INTERVAL", 15)) * time.Second,
		SentinelMaster:   getEnv("BEAT_FLEET_SENTINEL_MASTER", ""),
		SentinelPassword: getEnv("BEAT_FLEET_SENTINEL_PASSWORD", ""),
		RedisPassword:    getEnv("BEAT_FLEET_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("BEAT_FLEET_REDIS_DB", 0),
		ScheduleFile:     getEnv("BEAT_FLEET_SCHEDULE_FILE", "beat-fleet.yml"),
		QueueAddr:        getEnv("BEAT_FLEET_QUEUE_ADDR", "localhost:6379"),
		QueuePassword:    getEnv("BEAT_FLEET_QUEUE_PASSWORD", ""),
		QueueDB:          getEnvInt("BEAT_FLEET_QUEUE_DB", 0),
		Stream:           getEnv("BEAT_FLEET_STREAM", "beat-fleet:tasks"),
		StatePrefix:      getEnv("BEAT_FLEET_STATE_PREFIX", "beat-fleet:"),
		HTTPPort:         getEnvInt("BEAT_FLEET_HTTP_PORT", 8080),
		DatadogAddr:      getEnv("BEAT_FLEET_DATADOG_ADDR", ""),
		SecretsBackend:   getEnv("BEAT_FLEET_SECRETS_BACKEND", "env"),
		LogLevel:         getEnv("BEAT_FLEET_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations that must stop startup, before any
// network call is made.
func (c *Config) Validate() error {
	if c.LeaseURL == "" {
		return fmt.Errorf("BEAT_FLEET_LEASE_URL is required")
	}
	if c.IsSentinel() && c.SentinelMaster == "" {
		return fmt.Errorf("BEAT_FLEET_SENTINEL_MASTER is required for sentinel lease URLs")
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("BEAT_FLEET_LEASE_TTL must be positive")
	}
	if c.LeaseInterval <= 0 {
		return fmt.Errorf("BEAT_FLEET_LEASE_INTERVAL must be positive")
	}
	if c.ScheduleFile == "" {
		return fmt.Errorf("BEAT_FLEET_SCHEDULE_FILE is required")
	}
	if c.SecretsBackend != "env" && c.SecretsBackend != "vault" {
		return fmt.Errorf("BEAT_FLEET_SECRETS_BACKEND must be \"env\" or \"vault\", got %q", c.SecretsBackend)
	}
	return nil
}

// IsSentinel reports whether the lease URL uses discovery mode.
func (c *Config) IsSentinel() bool {
	return strings.HasPrefix(c.LeaseURL, "sentinel://")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
