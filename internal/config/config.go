package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config represents the complete application configuration. Values merge in
// precedence order: runtime overrides > environment variables > config file
// > built-in defaults.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Pool      PoolConfig      `mapstructure:"pool"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout defaults to 0 (disabled): streamed upstream responses
	// can legitimately outlive any fixed deadline.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	CORS       CORSConfig       `mapstructure:"cors"`
	ClientRate ClientRateConfig `mapstructure:"client_rate"`
}

// CORSConfig controls cross-origin headers on gateway responses
type CORSConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	AllowedMethods []string      `mapstructure:"allowed_methods"`
	AllowedHeaders []string      `mapstructure:"allowed_headers"`
	MaxAge         time.Duration `mapstructure:"max_age"`
}

// ClientRateConfig guards the inbound side per client IP.
// A zero rate disables the guard.
type ClientRateConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl"`
}

// UpstreamConfig describes the proxied AI service and how credentials are
// presented to it.
type UpstreamConfig struct {
	// BaseURL is the upstream origin; proxied paths are appended to it.
	BaseURL string `mapstructure:"base_url"`

	// APIKeys seeds the credential pool. The environment form is a single
	// comma-separated value.
	APIKeys []string `mapstructure:"api_keys"`

	// Timeout bounds one upstream exchange. Streaming responses are exempt
	// once response headers have arrived.
	Timeout time.Duration `mapstructure:"timeout"`

	// KeyParam is the query parameter the upstream expects the credential in.
	KeyParam string `mapstructure:"key_param"`

	// CredentialHeader and CredentialCookie are the inbound surfaces a
	// caller may pin its own credential through.
	CredentialHeader string `mapstructure:"credential_header"`
	CredentialCookie string `mapstructure:"credential_cookie"`

	// StreamMarkers are path fragments that mark a request as streaming.
	StreamMarkers []string `mapstructure:"stream_markers"`
}

// PoolConfig contains credential pool configuration
type PoolConfig struct {
	// Selection picks the pool policy: round_robin or least_used
	Selection string `mapstructure:"selection"`
}

// RateLimitConfig composes the outbound rate gates
type RateLimitConfig struct {
	Global        BucketConfig        `mapstructure:"global"`
	PerCredential BucketConfig        `mapstructure:"per_credential"`
	Shared        SharedCounterConfig `mapstructure:"shared"`
}

// BucketConfig describes one token bucket tier
type BucketConfig struct {
	RequestsPerInterval float64       `mapstructure:"requests_per_interval"`
	Interval            time.Duration `mapstructure:"interval"`

	// Burst is the bucket capacity; zero means same as requests_per_interval.
	Burst float64 `mapstructure:"burst"`

	// Enforce turns the per-credential gate from advisory into blocking.
	// Ignored on the global tier, which always blocks.
	Enforce bool `mapstructure:"enforce"`
}

// SharedCounterConfig configures the optional Redis cross-instance ceiling
type SharedCounterConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RedisURL       string        `mapstructure:"redis_url"`
	MaxPerInterval int64         `mapstructure:"max_per_interval"`
	Interval       time.Duration `mapstructure:"interval"`
	Prefix         string        `mapstructure:"prefix"`
}

// JournalConfig contains the libsql usage journal configuration
type JournalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	// FlushInterval controls how often in-memory usage is persisted.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles per Fulmen Forge Workhorse Standard:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`

	// StartupGracePeriod is how long the startup probe reports "starting"
	// before an incomplete initialization counts as unhealthy.
	StartupGracePeriod time.Duration `mapstructure:"startup_grace_period"`
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	base := strings.TrimSpace(c.Upstream.BaseURL)
	if base == "" {
		return fmt.Errorf("upstream.base_url must be set")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must be http or https, got %q", parsed.Scheme)
	}

	switch strings.ToLower(strings.TrimSpace(c.Pool.Selection)) {
	case "", "round_robin", "least_used":
	default:
		return fmt.Errorf("pool.selection must be round_robin or least_used, got %q", c.Pool.Selection)
	}

	for name, bucket := range map[string]BucketConfig{
		"ratelimit.global":         c.RateLimit.Global,
		"ratelimit.per_credential": c.RateLimit.PerCredential,
	} {
		if bucket.RequestsPerInterval < 0 {
			return fmt.Errorf("%s.requests_per_interval must not be negative", name)
		}
		if bucket.Interval < 0 {
			return fmt.Errorf("%s.interval must not be negative", name)
		}
		if bucket.Burst < 0 {
			return fmt.Errorf("%s.burst must not be negative", name)
		}
	}

	if c.RateLimit.Shared.Enabled && strings.TrimSpace(c.RateLimit.Shared.RedisURL) == "" {
		return fmt.Errorf("ratelimit.shared.redis_url must be set when the shared counter is enabled")
	}

	return nil
}
