// Package config loads the daemon's configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the session sentry daemon.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Browser launch settings
	LaunchBrowser bool
	BrowserBinary string
	ProfileDir    string
	StartURL      string

	// Tab matching
	TabURLFilter string

	// Recovery coordination
	RecoveryRoute   string
	RecoveryTTL     time.Duration
	AttemptCooldown time.Duration
	TokenStorageKey string

	// External services
	AuthBaseURL    string
	AuthEventsURL  string
	BackendBaseURL string

	// Shared state
	StateDir string

	// Audit trail
	AuditDir      string
	AuditBuffer   int
	MaxFileSizeMB int

	// Control API
	BindAddr string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:      getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:         getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		LaunchBrowser:   getEnvBoolOrDefault("SENTRY_LAUNCH_BROWSER", false),
		BrowserBinary:   getEnvOrDefault("SENTRY_BROWSER_BINARY", ""),
		ProfileDir:      getEnvOrDefault("SENTRY_PROFILE_DIR", "./browser_profile"),
		StartURL:        getEnvOrDefault("SENTRY_START_URL", ""),
		TabURLFilter:    getEnvOrDefault("SENTRY_TAB_URL_FILTER", ""),
		RecoveryRoute:   getEnvOrDefault("SENTRY_RECOVERY_ROUTE", "/auth/reset"),
		RecoveryTTL:     getEnvDurationOrDefault("SENTRY_RECOVERY_TTL", 30*time.Minute),
		AttemptCooldown: getEnvDurationOrDefault("SENTRY_ATTEMPT_COOLDOWN", 30*time.Second),
		TokenStorageKey: getEnvOrDefault("SENTRY_TOKEN_STORAGE_KEY", "auth_token"),
		AuthBaseURL:     getEnvOrDefault("SENTRY_AUTH_BASE_URL", "http://127.0.0.1:54321"),
		AuthEventsURL:   getEnvOrDefault("SENTRY_AUTH_EVENTS_URL", ""),
		BackendBaseURL:  getEnvOrDefault("SENTRY_BACKEND_BASE_URL", "http://127.0.0.1:8000"),
		StateDir:        getEnvOrDefault("SENTRY_STATE_DIR", "./sentry_state"),
		AuditDir:        getEnvOrDefault("SENTRY_AUDIT_DIR", "./audit"),
		AuditBuffer:     getEnvIntOrDefault("SENTRY_AUDIT_BUFFER", 1000),
		MaxFileSizeMB:   getEnvIntOrDefault("SENTRY_MAX_FILE_SIZE_MB", 50),
		BindAddr:        getEnvOrDefault("SENTRY_BIND_ADDR", "127.0.0.1:8199"),
		LogLevel:        strings.ToLower(getEnvOrDefault("SENTRY_LOG_LEVEL", "info")),
		LogFile:         getEnvOrDefault("SENTRY_LOG_FILE", "logs/tab_sentry.log"),
	}

	if cfg.RecoveryTTL < time.Minute {
		cfg.RecoveryTTL = time.Minute
	}
	if cfg.AttemptCooldown < time.Second {
		cfg.AttemptCooldown = time.Second
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
