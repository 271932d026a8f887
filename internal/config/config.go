// Package config provides configuration loading for agentd.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for agentd.
type Config struct {
	// Server settings
	Port           int
	Host           string
	AllowedOrigins []string

	// Database
	DBPath string

	// Session defaults
	DefaultCommand string
	DefaultRows    int
	DefaultCols    int

	// Lifecycle thresholds. A session with no activity for IdleAfter is
	// reclassified idle; for StaleAfter (which must exceed IdleAfter) it is
	// reclassified stale. The monitor wakes up every MonitorInterval.
	IdleAfter       time.Duration
	StaleAfter      time.Duration
	MonitorInterval time.Duration

	// StartTimeout bounds how long a session may stay in "starting" before
	// it is promoted to running even without output.
	StartTimeout time.Duration

	// TerminateGrace is how long a process gets after SIGTERM before the
	// whole process group is killed.
	TerminateGrace time.Duration

	// InjectDelay is the minimum session age before injected text is
	// written, giving interactive CLI tools time to finish their startup
	// banner and prompt.
	InjectDelay time.Duration

	// ViewerQueueSize is the per-viewer output queue depth. A viewer whose
	// queue overflows is detached rather than allowed to block the relay.
	ViewerQueueSize int

	// HTTP server timeouts. There is no write timeout knob: the server
	// keeps WriteTimeout at zero so hijacked WebSocket connections are
	// never armed with a connection deadline.
	HTTPReadTimeout time.Duration
	HTTPIdleTimeout time.Duration

	// WebSocket settings
	WSReadBufferSize  int
	WSWriteBufferSize int

	// GitTimeout bounds each read-only git subprocess invocation.
	GitTimeout time.Duration

	// FSMaxEntries caps directory listings from the filesystem browser.
	FSMaxEntries int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnvInt("AGENTD_PORT", 8700),
		Host:           getEnv("AGENTD_HOST", "127.0.0.1"),
		AllowedOrigins: getEnvStringSlice("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),

		DBPath: getEnv("DB_PATH", "agentd.db"),

		DefaultCommand: getEnv("DEFAULT_COMMAND", "/bin/bash"),
		DefaultRows:    getEnvInt("DEFAULT_ROWS", 24),
		DefaultCols:    getEnvInt("DEFAULT_COLS", 80),

		IdleAfter:       getEnvDuration("IDLE_AFTER", 5*time.Minute),
		StaleAfter:      getEnvDuration("STALE_AFTER", 30*time.Minute),
		MonitorInterval: getEnvDuration("MONITOR_INTERVAL", 10*time.Second),

		StartTimeout:   getEnvDuration("START_TIMEOUT", 500*time.Millisecond),
		TerminateGrace: getEnvDuration("TERMINATE_GRACE", 3*time.Second),
		InjectDelay:    getEnvDuration("INJECT_DELAY", 1*time.Second),

		ViewerQueueSize: getEnvInt("VIEWER_QUEUE_SIZE", 256),

		HTTPReadTimeout: getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPIdleTimeout: getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		WSReadBufferSize:  getEnvInt("WS_READ_BUFFER_SIZE", 4096),
		WSWriteBufferSize: getEnvInt("WS_WRITE_BUFFER_SIZE", 4096),

		GitTimeout:   getEnvDuration("GIT_TIMEOUT", 10*time.Second),
		FSMaxEntries: getEnvInt("FS_MAX_ENTRIES", 500),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.StaleAfter <= cfg.IdleAfter {
		return nil, fmt.Errorf("STALE_AFTER (%s) must be greater than IDLE_AFTER (%s)", cfg.StaleAfter, cfg.IdleAfter)
	}
	if cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	if cfg.ViewerQueueSize <= 0 {
		return nil, fmt.Errorf("VIEWER_QUEUE_SIZE must be positive")
	}

	return cfg, nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv returns a string environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvStringSlice returns a slice from a comma-separated environment variable.
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
