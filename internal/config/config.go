// Package config loads and validates the docgate configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the DOCGATE_ prefix (e.g., DOCGATE_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The rate-limit section additionally supports live reload: when the config file
// changes on disk, WatchRateLimits re-reads only that section and hands the new
// quota table to the caller, so tier limits can be tuned without a restart.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Jobs      JobsConfig      `mapstructure:"jobs"`

	// viper instance the config was loaded from; retained so WatchRateLimits
	// can re-read the file. Nil when the Config was constructed by hand (tests).
	v *viper.Viper
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the connection settings for the centralized rate-limit
// counter backend. When Enabled is false (or Addr is empty) the service runs
// on the in-process counter store instead: counts are then per-process rather
// than cluster-wide, which is the documented single-node fallback mode.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Tokens   TokenConfig    `mapstructure:"tokens"`
	Provider ProviderConfig `mapstructure:"provider"`
}

// TokenConfig holds API token issuance policy.
type TokenConfig struct {
	// Prefix is prepended to generated token secrets so they are recognisable
	// in logs and secret scanners (e.g. "dg_").
	Prefix string `mapstructure:"prefix"`
	// SecretBytes is the number of random bytes in a token secret before
	// encoding. Minimum 32.
	SecretBytes int `mapstructure:"secret_bytes"`
	// DefaultTTLDays applies when a creation request does not specify a TTL.
	DefaultTTLDays int `mapstructure:"default_ttl_days"`
	// MaxPerOwner caps the number of simultaneously active tokens per owner.
	MaxPerOwner int `mapstructure:"max_per_owner"`
}

// ProviderConfig selects and configures the external identity provider used
// for credentials that are not local API tokens.
//
// Mode is one of:
//   - "oidc": verify against a remote OIDC issuer (JWKS discovery)
//   - "jwt":  verify HS256 tokens signed with a shared secret
//   - "none": no provider; only API tokens authenticate
type ProviderConfig struct {
	Mode          string        `mapstructure:"mode"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	OIDC          OIDCConfig    `mapstructure:"oidc"`
	JWT           JWTConfig     `mapstructure:"jwt"`
}

// OIDCConfig holds generic OIDC provider configuration
type OIDCConfig struct {
	IssuerURL string `mapstructure:"issuer_url"`
	ClientID  string `mapstructure:"client_id"`
	// UserInfoFallback enables a second verification path for opaque (non-JWT)
	// provider access tokens via the issuer's UserInfo endpoint.
	UserInfoFallback bool `mapstructure:"user_info_fallback"`
}

// JWTConfig holds shared-secret JWT verification configuration
type JWTConfig struct {
	// Secret is the HS256 signing secret; supports ${VAR} expansion so it can
	// be injected from the environment. Minimum 32 characters.
	Secret string `mapstructure:"secret"`
	// Issuer, when set, is required to match the token's iss claim.
	Issuer string `mapstructure:"issuer"`
}

// RateLimitConfig holds the tier quota table. Quotas are requests per fixed
// window; all three windows apply simultaneously to every request.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Anonymous applies to requests resolved to no identity (keyed by IP).
	Anonymous QuotaConfig `mapstructure:"anonymous"`
	// Authenticated applies to provider-verified identities.
	Authenticated QuotaConfig `mapstructure:"authenticated"`
	// APITokenMultiplier scales the authenticated quotas for the api_token
	// tier (highest trust, programmatic callers).
	APITokenMultiplier int `mapstructure:"api_token_multiplier"`
}

// QuotaConfig is one tier's request allowance per window kind.
type QuotaConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	PerDay    int `mapstructure:"per_day"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	TokenPurge TokenPurgeConfig `mapstructure:"token_purge"`
}

// TokenPurgeConfig controls the periodic deletion of dead token rows.
type TokenPurgeConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// Retention keeps inactive rows around for this long past their expiry
	// before the purge job deletes them. Zero deletes as soon as expired.
	Retention time.Duration `mapstructure:"retention"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.tokens.prefix",
		"auth.tokens.secret_bytes",
		"auth.tokens.default_ttl_days",
		"auth.tokens.max_per_owner",
		"auth.provider.mode",
		"auth.provider.timeout",
		"auth.provider.max_concurrent",
		"auth.provider.oidc.issuer_url",
		"auth.provider.oidc.client_id",
		"auth.provider.oidc.user_info_fallback",
		"auth.provider.jwt.secret",
		"auth.provider.jwt.issuer",

		// Rate limiting
		"ratelimit.enabled",
		"ratelimit.anonymous.per_minute",
		"ratelimit.anonymous.per_hour",
		"ratelimit.anonymous.per_day",
		"ratelimit.authenticated.per_minute",
		"ratelimit.authenticated.per_hour",
		"ratelimit.authenticated.per_day",
		"ratelimit.api_token_multiplier",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Jobs
		"jobs.token_purge.enabled",
		"jobs.token_purge.interval",
		"jobs.token_purge.retention",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/docgate")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("DOCGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.Provider.JWT.Secret = expandEnv(cfg.Auth.Provider.JWT.Secret)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.v = v
	return &cfg, nil
}

// WatchRateLimits installs a file watcher that re-reads the ratelimit section
// whenever the config file changes and passes the validated result to onChange.
// Changes to any other section are ignored until restart. Invalid edits are
// logged and skipped so a typo cannot take down admission control.
//
// No-op when the config came purely from defaults and environment variables
// (there is no file to watch).
func (c *Config) WatchRateLimits(onChange func(RateLimitConfig)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := c.v.Unmarshal(&next); err != nil {
			slog.Warn("config reload: unmarshal failed, keeping previous quotas", "file", e.Name, "error", err)
			return
		}
		if err := next.RateLimit.validate(); err != nil {
			slog.Warn("config reload: invalid ratelimit section, keeping previous quotas", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reload: applying updated rate-limit quotas", "file", e.Name)
		onChange(next.RateLimit)
	})
	c.v.WatchConfig()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "docgate")
	v.SetDefault("database.user", "docgate")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.tokens.prefix", "dg_")
	v.SetDefault("auth.tokens.secret_bytes", 32)
	v.SetDefault("auth.tokens.default_ttl_days", 30)
	v.SetDefault("auth.tokens.max_per_owner", 5)
	v.SetDefault("auth.provider.mode", "none")
	v.SetDefault("auth.provider.timeout", "5s")
	v.SetDefault("auth.provider.max_concurrent", 32)
	v.SetDefault("auth.provider.oidc.user_info_fallback", false)

	// Rate limiting defaults
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.anonymous.per_minute", 30)
	v.SetDefault("ratelimit.anonymous.per_hour", 500)
	v.SetDefault("ratelimit.anonymous.per_day", 2000)
	v.SetDefault("ratelimit.authenticated.per_minute", 60)
	v.SetDefault("ratelimit.authenticated.per_hour", 1000)
	v.SetDefault("ratelimit.authenticated.per_day", 10000)
	v.SetDefault("ratelimit.api_token_multiplier", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Jobs defaults
	v.SetDefault("jobs.token_purge.enabled", true)
	v.SetDefault("jobs.token_purge.interval", "1h")
	v.SetDefault("jobs.token_purge.retention", "0s")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate token policy
	if c.Auth.Tokens.SecretBytes < 32 {
		return fmt.Errorf("auth.tokens.secret_bytes must be at least 32, got %d", c.Auth.Tokens.SecretBytes)
	}
	if c.Auth.Tokens.MaxPerOwner < 1 {
		return fmt.Errorf("auth.tokens.max_per_owner must be at least 1, got %d", c.Auth.Tokens.MaxPerOwner)
	}
	if c.Auth.Tokens.DefaultTTLDays < 0 {
		return fmt.Errorf("auth.tokens.default_ttl_days must not be negative, got %d", c.Auth.Tokens.DefaultTTLDays)
	}

	// Validate provider selection
	switch c.Auth.Provider.Mode {
	case "none", "":
	case "oidc":
		if c.Auth.Provider.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.provider.oidc.issuer_url is required when provider mode is oidc")
		}
		if c.Auth.Provider.OIDC.ClientID == "" {
			return fmt.Errorf("auth.provider.oidc.client_id is required when provider mode is oidc")
		}
	case "jwt":
		if len(c.Auth.Provider.JWT.Secret) < 32 {
			return fmt.Errorf("auth.provider.jwt.secret must be at least 32 characters when provider mode is jwt")
		}
	default:
		return fmt.Errorf("invalid auth.provider.mode: %s (must be oidc, jwt, or none)", c.Auth.Provider.Mode)
	}
	if c.Auth.Provider.Timeout <= 0 {
		return fmt.Errorf("auth.provider.timeout must be positive")
	}
	if c.Auth.Provider.MaxConcurrent < 1 {
		return fmt.Errorf("auth.provider.max_concurrent must be at least 1, got %d", c.Auth.Provider.MaxConcurrent)
	}

	// Validate rate limiting
	if err := c.RateLimit.validate(); err != nil {
		return err
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate jobs
	if c.Jobs.TokenPurge.Enabled && c.Jobs.TokenPurge.Interval <= 0 {
		return fmt.Errorf("jobs.token_purge.interval must be positive when the job is enabled")
	}
	if c.Jobs.TokenPurge.Retention < 0 {
		return fmt.Errorf("jobs.token_purge.retention must not be negative")
	}

	return nil
}

// validate checks the quota table on its own so the hot-reload path can reuse
// it without re-validating unrelated sections.
func (r *RateLimitConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	for _, q := range []struct {
		name  string
		quota QuotaConfig
	}{
		{"anonymous", r.Anonymous},
		{"authenticated", r.Authenticated},
	} {
		if q.quota.PerMinute < 1 || q.quota.PerHour < 1 || q.quota.PerDay < 1 {
			return fmt.Errorf("ratelimit.%s quotas must all be at least 1", q.name)
		}
	}
	if r.APITokenMultiplier < 1 {
		return fmt.Errorf("ratelimit.api_token_multiplier must be at least 1, got %d", r.APITokenMultiplier)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
