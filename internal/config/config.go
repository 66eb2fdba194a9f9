// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all sync engine configuration.
type Config struct {
	// Local state
	DBPath string

	// Remote node gateway
	GatewayURL string
	UserID     string
	AuthToken  string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsAddr string

	// Engine timers
	PollInterval      time.Duration // liveness poll against the gateway
	ReconnectInterval time.Duration // reconnect checks while disconnected
	SweepInterval     time.Duration // expired cache entry sweep (0 disables)
	RemoteTimeout     time.Duration // per remote call

	AutoReconnect bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:            envOr("COMMUNITAS_DB_PATH", "communitas.db"),
		GatewayURL:        envOr("COMMUNITAS_GATEWAY_URL", ""),
		UserID:            envOr("COMMUNITAS_USER_ID", ""),
		AuthToken:         envOr("COMMUNITAS_AUTH_TOKEN", ""),
		LogLevel:          envOr("COMMUNITAS_LOG_LEVEL", "info"),
		LogFormat:         envOr("COMMUNITAS_LOG_FORMAT", "json"),
		MetricsAddr:       envOr("COMMUNITAS_METRICS_ADDR", ":9090"),
		PollInterval:      envDuration("COMMUNITAS_POLL_INTERVAL", 30*time.Second),
		ReconnectInterval: envDuration("COMMUNITAS_RECONNECT_INTERVAL", 5*time.Second),
		SweepInterval:     envDuration("COMMUNITAS_SWEEP_INTERVAL", time.Minute),
		RemoteTimeout:     envDuration("COMMUNITAS_REMOTE_TIMEOUT", 15*time.Second),
		AutoReconnect:     envBool("COMMUNITAS_AUTO_RECONNECT", true),
	}

	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("COMMUNITAS_GATEWAY_URL is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("COMMUNITAS_USER_ID is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
