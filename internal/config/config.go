// Package config provides environment-aware configuration management for
// the Stardag registry.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sdruntime "github.com/stardag-dev/stardag-registry/internal/runtime"
	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all registry configuration.
type Config struct {
	Env Environment

	// HTTP server
	ServerHost string
	ServerPort int

	// Database
	DatabaseDSN     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnLifetime  time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// OIDC (external identity)
	OIDCIssuer   string
	OIDCAudience string
	OIDCClientID string

	// Internal token signing (registry-minted, workspace-scoped)
	InternalTokenSecret string
	InternalTokenTTL    time.Duration

	// API keys
	APIKeyPepper string

	// Lock service defaults
	DefaultLockTTL     time.Duration
	LockAcquireTimeout time.Duration
	LockSweepSchedule  string

	// OIDC key refresh
	OIDCKeyRefreshSchedule string

	// Distributed cache (optional; falls back to in-process cache when empty)
	RedisURL string

	// Resource limits
	MaxOrganizationsPerUser int
	MaxWorkspacesPerUser    int

	// Observability
	MetricsEnabled bool
	MetricsPort    int
}

// Load loads configuration based on the STARDAG_ENV environment variable,
// optionally layering in a config/<env>.env file.
func Load() (*Config, error) {
	envStr := os.Getenv("STARDAG_ENV")
	if envStr == "" {
		envStr = string(sdruntime.Development)
	}

	parsedEnv, ok := sdruntime.ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid STARDAG_ENV: %s (must be development, testing, or production)", envStr)
	}
	env := Environment(parsedEnv)

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		// Config file is optional; only warn on non-"file not found" errors
		// to avoid noisy logs during tests and CI runs.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.ServerHost = getEnv("SERVER_HOST", "0.0.0.0")
	c.ServerPort = getIntEnv("SERVER_PORT", 8080)

	c.DatabaseDSN = getEnv("DATABASE_URL", "")
	c.DBMaxOpenConns = getIntEnv("DB_MAX_OPEN_CONNS", 20)
	c.DBMaxIdleConns = getIntEnv("DB_MAX_IDLE_CONNS", 5)
	connLifetime, err := getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	c.DBConnLifetime = connLifetime

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.OIDCIssuer = getEnv("STARDAG_OIDC_ISSUER", "")
	c.OIDCAudience = getEnv("STARDAG_OIDC_AUDIENCE", "")
	c.OIDCClientID = getEnv("STARDAG_OIDC_CLIENT_ID", "")

	c.InternalTokenSecret = getEnv("STARDAG_INTERNAL_TOKEN_SECRET", "")
	internalTTL, err := getDurationEnv("STARDAG_INTERNAL_TOKEN_TTL", 10*time.Minute)
	if err != nil {
		return fmt.Errorf("invalid STARDAG_INTERNAL_TOKEN_TTL: %w", err)
	}
	c.InternalTokenTTL = internalTTL

	c.APIKeyPepper = getEnv("STARDAG_API_KEY_PEPPER", "")

	lockTTL, err := getDurationEnv("STARDAG_DEFAULT_LOCK_TTL", 60*time.Second)
	if err != nil {
		return fmt.Errorf("invalid STARDAG_DEFAULT_LOCK_TTL: %w", err)
	}
	c.DefaultLockTTL = lockTTL

	acquireTimeout, err := getDurationEnv("STARDAG_LOCK_ACQUIRE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return fmt.Errorf("invalid STARDAG_LOCK_ACQUIRE_TIMEOUT: %w", err)
	}
	c.LockAcquireTimeout = acquireTimeout

	c.LockSweepSchedule = getEnv("STARDAG_LOCK_SWEEP_SCHEDULE", "0 * * * *")
	c.OIDCKeyRefreshSchedule = getEnv("STARDAG_OIDC_KEY_REFRESH_SCHEDULE", "*/15 * * * *")

	c.RedisURL = getEnv("STARDAG_REDIS_URL", "")

	c.MaxOrganizationsPerUser = getIntEnv("STARDAG_MAX_ORGS_PER_USER", 10)
	c.MaxWorkspacesPerUser = getIntEnv("STARDAG_MAX_WORKSPACES_PER_USER", 25)

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	return nil
}

func (c *Config) IsDevelopment() bool { return c.Env == Development }
func (c *Config) IsTesting() bool     { return c.Env == Testing }
func (c *Config) IsProduction() bool  { return c.Env == Production }

// Validate enforces production-only constraints and basic sanity checks.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if strings.TrimSpace(c.InternalTokenSecret) == "" {
			return fmt.Errorf("STARDAG_INTERNAL_TOKEN_SECRET is required in production")
		}
		if strings.TrimSpace(c.OIDCIssuer) == "" {
			return fmt.Errorf("STARDAG_OIDC_ISSUER is required in production")
		}
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	if c.DefaultLockTTL <= 0 {
		return fmt.Errorf("STARDAG_DEFAULT_LOCK_TTL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(value)
}
