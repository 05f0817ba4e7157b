package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agromano/backoffice/pkg/observability"
)

// Identity verification modes
const (
	IdentityModeOIDC = "oidc"
	IdentityModeHMAC = "hmac"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Identity      IdentityConfig
	Authz         AuthzConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds the authorization store connection settings
type DatabaseConfig struct {
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig holds role permission cache settings. An empty RedisURL keeps the
// cache in process only.
type CacheConfig struct {
	Enabled       bool
	Size          int
	TTL           time.Duration
	RedisURL      string
	RedisDB       int
	RedisPrefix   string
	PurgeSchedule string
}

// IdentityConfig selects and configures the bearer token verifier
type IdentityConfig struct {
	Mode             string
	OIDCIssuerURL    string
	OIDCClientID     string
	HMACSecret       string
	HMACIssuer       string
	HMACAudience     string
	Leeway           time.Duration
	PermissionsClaim string
}

// AuthzConfig holds resolution settings
type AuthzConfig struct {
	// ResolutionTimeout bounds each request's authorization resolution
	ResolutionTimeout time.Duration
}

// RateLimitConfig holds per-account request limits
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// AuditConfig selects audit trail destinations. With neither Dir nor Database
// set, events go to the service log.
type AuditConfig struct {
	Enabled   bool
	Dir       string
	Database  bool
	MaxFileMB int
	MaxFiles  int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Identity:      loadIdentityConfig(),
		Authz:         loadAuthzConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BACKOFFICE_HOST", "0.0.0.0"),
		Port:            getEnv("BACKOFFICE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BACKOFFICE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BACKOFFICE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("BACKOFFICE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BACKOFFICE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:     getEnv("BACKOFFICE_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("BACKOFFICE_POSTGRES_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("BACKOFFICE_POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("BACKOFFICE_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       getEnvBool("BACKOFFICE_CACHE_ENABLED", true),
		Size:          getEnvInt("BACKOFFICE_CACHE_SIZE", 256),
		TTL:           getEnvDuration("BACKOFFICE_CACHE_TTL", time.Minute),
		RedisURL:      getEnv("BACKOFFICE_REDIS_URL", ""),
		RedisDB:       getEnvInt("BACKOFFICE_REDIS_DB", 0),
		RedisPrefix:   getEnv("BACKOFFICE_REDIS_PREFIX", "authz:role_permissions"),
		PurgeSchedule: getEnv("BACKOFFICE_CACHE_PURGE_SCHEDULE", "@every 15m"),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		Mode:             strings.ToLower(getEnv("BACKOFFICE_IDENTITY_MODE", IdentityModeOIDC)),
		OIDCIssuerURL:    getEnv("BACKOFFICE_OIDC_ISSUER_URL", ""),
		OIDCClientID:     getEnv("BACKOFFICE_OIDC_CLIENT_ID", ""),
		HMACSecret:       getEnv("BACKOFFICE_HMAC_SECRET", ""),
		HMACIssuer:       getEnv("BACKOFFICE_HMAC_ISSUER", ""),
		HMACAudience:     getEnv("BACKOFFICE_HMAC_AUDIENCE", ""),
		Leeway:           getEnvDuration("BACKOFFICE_TOKEN_LEEWAY", 30*time.Second),
		PermissionsClaim: getEnv("BACKOFFICE_PERMISSIONS_CLAIM", "permissions"),
	}
}

func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		ResolutionTimeout: getEnvDuration("BACKOFFICE_RESOLUTION_TIMEOUT", 3*time.Second),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("BACKOFFICE_RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnvInt("BACKOFFICE_RATE_LIMIT_PER_MINUTE", 600),
		Burst:             getEnvInt("BACKOFFICE_RATE_LIMIT_BURST", 30),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:   getEnvBool("BACKOFFICE_AUDIT_ENABLED", true),
		Dir:       getEnv("BACKOFFICE_AUDIT_DIR", ""),
		Database:  getEnvBool("BACKOFFICE_AUDIT_DATABASE", false),
		MaxFileMB: getEnvInt("BACKOFFICE_AUDIT_MAX_FILE_MB", 100),
		MaxFiles:  getEnvInt("BACKOFFICE_AUDIT_MAX_FILES", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("BACKOFFICE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("BACKOFFICE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BACKOFFICE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BACKOFFICE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BACKOFFICE_OTEL_SERVICE_NAME", "agromano-backoffice"),
		OTelServiceVersion: getEnv("BACKOFFICE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BACKOFFICE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("BACKOFFICE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("postgres max connections must be positive")
	}
	if c.Authz.ResolutionTimeout <= 0 {
		return fmt.Errorf("resolution timeout must be positive")
	}

	switch c.Identity.Mode {
	case IdentityModeOIDC:
		if c.Identity.OIDCIssuerURL == "" || c.Identity.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer URL and client id are required in oidc mode")
		}
	case IdentityModeHMAC:
		if c.Identity.HMACSecret == "" {
			return fmt.Errorf("HMAC secret is required in hmac mode")
		}
	default:
		return fmt.Errorf("invalid identity mode: %s (must be oidc or hmac)", c.Identity.Mode)
	}

	if c.Cache.Enabled {
		if c.Cache.Size < 1 {
			return fmt.Errorf("cache size must be positive when the cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive when the cache is enabled")
		}
		if c.Cache.PurgeSchedule != "" {
			if _, err := cron.ParseStandard(c.Cache.PurgeSchedule); err != nil {
				return fmt.Errorf("invalid cache purge schedule %q: %w", c.Cache.PurgeSchedule, err)
			}
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("rate limit must be positive when enabled")
	}

	if c.Audit.Enabled && c.Audit.Dir != "" {
		if c.Audit.MaxFileMB < 1 || c.Audit.MaxFiles < 1 {
			return fmt.Errorf("audit file size and file count must be positive")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
