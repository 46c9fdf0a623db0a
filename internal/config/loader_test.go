package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// Test basic config loading with defaults
	t.Run("LoadDefaults", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", t.TempDir())

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, []string{"*"}, cfg.Server.CORS.AllowedOrigins)
		assert.Equal(t, 10*time.Minute, cfg.Server.CORS.MaxAge)
		assert.Zero(t, cfg.Server.ClientRate.RequestsPerSecond)

		// Verify upstream defaults
		assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.Upstream.BaseURL)
		assert.Empty(t, cfg.Upstream.APIKeys)
		assert.Equal(t, 120*time.Second, cfg.Upstream.Timeout)
		assert.Equal(t, "key", cfg.Upstream.KeyParam)
		assert.Equal(t, "X-Api-Key", cfg.Upstream.CredentialHeader)
		assert.Equal(t, "pressgate_key", cfg.Upstream.CredentialCookie)
		assert.Equal(t, []string{"streamGenerateContent", ":stream"}, cfg.Upstream.StreamMarkers)

		// Verify pool defaults
		assert.Equal(t, "round_robin", cfg.Pool.Selection)

		// Verify rate limit defaults
		assert.Equal(t, 60.0, cfg.RateLimit.Global.RequestsPerInterval)
		assert.Equal(t, time.Minute, cfg.RateLimit.Global.Interval)
		assert.Equal(t, 60.0, cfg.RateLimit.Global.Burst)
		assert.Equal(t, 60.0, cfg.RateLimit.PerCredential.RequestsPerInterval)
		assert.Equal(t, time.Minute, cfg.RateLimit.PerCredential.Interval)
		assert.False(t, cfg.RateLimit.PerCredential.Enforce)
		assert.False(t, cfg.RateLimit.Shared.Enabled)
		assert.Equal(t, int64(60), cfg.RateLimit.Shared.MaxPerInterval)
		assert.Equal(t, "pressgate:ratelimit", cfg.RateLimit.Shared.Prefix)

		// Verify journal defaults
		assert.True(t, cfg.Journal.Enabled)
		assert.Equal(t, "libsql", cfg.Journal.Driver)
		expectedJournalPath := filepath.Join(gfconfig.GetAppDataDir("pressgate"), "pressgate.db")
		assert.Equal(t, expectedJournalPath, cfg.Journal.Path)
		assert.Equal(t, "", cfg.Journal.URL)
		assert.Equal(t, "", cfg.Journal.AuthToken)
		assert.Equal(t, time.Minute, cfg.Journal.FlushInterval)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		// Verify metrics defaults
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)

		// Verify health defaults
		assert.True(t, cfg.Health.Enabled)
		assert.Equal(t, 30*time.Second, cfg.Health.StartupGracePeriod)
	})

	// Test runtime overrides
	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
			"upstream": map[string]any{
				"api_keys": []string{"override-key"},
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify overrides were applied
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, []string{"override-key"}, cfg.Upstream.APIKeys)

		// Verify non-overridden values remain default
		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	// Test environment variable overrides
	t.Run("EnvOverrides", func(t *testing.T) {
		// Set environment variables
		require.NoError(t, os.Setenv("PRESSGATE_SERVER_PORT", "3000"))
		require.NoError(t, os.Setenv("PRESSGATE_LOGGING_LEVEL", "warn"))
		require.NoError(t, os.Setenv("PRESSGATE_METRICS_ENABLED", "false"))
		require.NoError(t, os.Setenv("PRESSGATE_UPSTREAM_API_KEYS", "alpha,beta"))
		require.NoError(t, os.Setenv("PRESSGATE_RATELIMIT_GLOBAL_REQUESTS_PER_INTERVAL", "25"))
		require.NoError(t, os.Setenv("PRESSGATE_RATELIMIT_PER_CREDENTIAL_ENFORCE", "true"))
		defer func() {
			_ = os.Unsetenv("PRESSGATE_SERVER_PORT")
			_ = os.Unsetenv("PRESSGATE_LOGGING_LEVEL")
			_ = os.Unsetenv("PRESSGATE_METRICS_ENABLED")
			_ = os.Unsetenv("PRESSGATE_UPSTREAM_API_KEYS")
			_ = os.Unsetenv("PRESSGATE_RATELIMIT_GLOBAL_REQUESTS_PER_INTERVAL")
			_ = os.Unsetenv("PRESSGATE_RATELIMIT_PER_CREDENTIAL_ENFORCE")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify env overrides were applied
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, []string{"alpha", "beta"}, cfg.Upstream.APIKeys)
		assert.Equal(t, 25.0, cfg.RateLimit.Global.RequestsPerInterval)
		assert.True(t, cfg.RateLimit.PerCredential.Enforce)
	})

	// Test config precedence: runtime > env > defaults
	t.Run("ConfigPrecedence", func(t *testing.T) {
		// Set environment variable
		require.NoError(t, os.Setenv("PRESSGATE_SERVER_PORT", "4000"))
		defer func() {
			_ = os.Unsetenv("PRESSGATE_SERVER_PORT")
		}()

		// Runtime override should win
		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Runtime override should take precedence over env var
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	// Test explicit config file loading
	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `server:
  port: 7001
upstream:
  base_url: https://upstream.internal
  api_keys:
    - file-key-1
    - file-key-2
ratelimit:
  per_credential:
    enforce: true
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		SetConfigFile(path)
		defer SetConfigFile("")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 7001, cfg.Server.Port)
		assert.Equal(t, "https://upstream.internal", cfg.Upstream.BaseURL)
		assert.Equal(t, []string{"file-key-1", "file-key-2"}, cfg.Upstream.APIKeys)
		assert.True(t, cfg.RateLimit.PerCredential.Enforce)

		// Keys absent from the file keep their defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, "round_robin", cfg.Pool.Selection)
	})

	// A missing explicit config file is an error, unlike missing discovery
	t.Run("MissingExplicitConfigFile", func(t *testing.T) {
		SetConfigFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
		defer SetConfigFile("")

		_, err := Load(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "config file")
	})

	t.Run("MalformedConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [not: valid\n"), 0o644))

		SetConfigFile(path)
		defer SetConfigFile("")

		_, err := Load(ctx)
		require.Error(t, err)
	})
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	// Load config first
	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Test GetConfig returns the same instance
	t.Run("GetConfigReturnsLoadedConfig", func(t *testing.T) {
		retrieved := GetConfig()
		assert.NotNil(t, retrieved)
		assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
		assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
	})
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	// Test duration parsing from string env var
	t.Run("DurationFromEnv", func(t *testing.T) {
		require.NoError(t, os.Setenv("PRESSGATE_SERVER_READ_TIMEOUT", "45s"))
		require.NoError(t, os.Setenv("PRESSGATE_SERVER_SHUTDOWN_TIMEOUT", "5m"))
		require.NoError(t, os.Setenv("PRESSGATE_UPSTREAM_TIMEOUT", "90s"))
		defer func() {
			_ = os.Unsetenv("PRESSGATE_SERVER_READ_TIMEOUT")
			_ = os.Unsetenv("PRESSGATE_SERVER_SHUTDOWN_TIMEOUT")
			_ = os.Unsetenv("PRESSGATE_UPSTREAM_TIMEOUT")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 90*time.Second, cfg.Upstream.Timeout)
	})
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	// Load initial config
	cfg1, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg1)
	initialPort := cfg1.Server.Port

	// Reload with different runtime overrides
	overrides := map[string]any{
		"server": map[string]any{
			"port": initialPort + 1000,
		},
	}

	cfg2, err := Load(ctx, overrides)
	require.NoError(t, err)
	require.NotNil(t, cfg2)

	// Verify reload updated the config
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)

	// Verify GetConfig returns the updated config
	current := GetConfig()
	assert.Equal(t, cfg2.Server.Port, current.Server.Port)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Upstream: UpstreamConfig{BaseURL: "https://upstream.example"},
		}
	}

	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("MissingBaseURL", func(t *testing.T) {
		cfg := base()
		cfg.Upstream.BaseURL = "   "
		err := cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "upstream.base_url")
	})

	t.Run("NonHTTPBaseURL", func(t *testing.T) {
		cfg := base()
		cfg.Upstream.BaseURL = "ftp://upstream.example"
		err := cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "http or https")
	})

	t.Run("UnknownPoolSelection", func(t *testing.T) {
		cfg := base()
		cfg.Pool.Selection = "sticky"
		err := cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "pool.selection")
	})

	t.Run("NegativeBucketValues", func(t *testing.T) {
		cfg := base()
		cfg.RateLimit.Global.RequestsPerInterval = -1
		err := cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "requests_per_interval")

		cfg = base()
		cfg.RateLimit.PerCredential.Burst = -0.5
		err = cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "burst")
	})

	t.Run("SharedCounterRequiresRedisURL", func(t *testing.T) {
		cfg := base()
		cfg.RateLimit.Shared.Enabled = true
		err := cfg.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "redis_url")
	})
}
