// Package config provides centralized configuration management for the
// gateway. Defaults, an optional YAML config file, environment variables
// (prefix from app identity), and runtime overrides merge in ascending
// precedence.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pressgate/pressgate/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity

	// configFile is an explicit config file path (--config flag); empty
	// means XDG discovery.
	configFile   string
	configFileMu sync.Mutex
)

// SetConfigFile pins config loading to an explicit file instead of the
// XDG search paths. Called from the CLI when --config is given.
func SetConfigFile(path string) {
	configFileMu.Lock()
	defer configFileMu.Unlock()
	configFile = strings.TrimSpace(path)
}

func getConfigFile() string {
	configFileMu.Lock()
	defer configFileMu.Unlock()
	return configFile
}

// Load loads configuration from defaults, config file, environment, and
// runtime overrides. Safe to call multiple times (config reload builds a
// fresh snapshot each time).
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	// A .env next to the binary is a developer convenience; a missing file
	// is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if explicit := getConfigFile(); explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		if configDir := gfconfig.GetAppConfigDir(appIdentity.ConfigName); configDir != "" {
			v.AddConfigPath(configDir)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Identity env prefixes carry a trailing underscore; viper adds its own.
	v.SetEnvPrefix(strings.TrimSuffix(appIdentity.EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// No config file found during discovery is fine; defaults and env
		// cover everything. An explicit --config path that cannot be read,
		// or a malformed file, is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, overrides := range runtimeOverrides {
		for key, value := range flattenOverrides("", overrides) {
			v.Set(key, value)
		}
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToFloat64HookFunc(),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Journal.URL) == "" && strings.TrimSpace(cfg.Journal.Path) == "" {
		cfg.Journal.Path = defaultJournalPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// setDefaults registers every config key so environment lookups resolve.
// Viper only consults the environment for keys it already knows about.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// CORS defaults
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("server.cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Api-Key", "X-Request-ID"})
	v.SetDefault("server.cors.max_age", "10m")

	// Inbound client guard defaults (disabled)
	v.SetDefault("server.client_rate.requests_per_second", 0.0)
	v.SetDefault("server.client_rate.burst", 0)
	v.SetDefault("server.client_rate.idle_ttl", "10m")

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("upstream.api_keys", []string{})
	v.SetDefault("upstream.timeout", "120s")
	v.SetDefault("upstream.key_param", "key")
	v.SetDefault("upstream.credential_header", "X-Api-Key")
	v.SetDefault("upstream.credential_cookie", "pressgate_key")
	v.SetDefault("upstream.stream_markers", []string{"streamGenerateContent", ":stream"})

	// Pool defaults
	v.SetDefault("pool.selection", "round_robin")

	// Rate limit defaults
	v.SetDefault("ratelimit.global.requests_per_interval", 60.0)
	v.SetDefault("ratelimit.global.interval", "60s")
	v.SetDefault("ratelimit.global.burst", 60.0)
	v.SetDefault("ratelimit.per_credential.requests_per_interval", 60.0)
	v.SetDefault("ratelimit.per_credential.interval", "60s")
	v.SetDefault("ratelimit.per_credential.burst", 60.0)
	v.SetDefault("ratelimit.per_credential.enforce", false)
	v.SetDefault("ratelimit.shared.enabled", false)
	v.SetDefault("ratelimit.shared.redis_url", "")
	v.SetDefault("ratelimit.shared.max_per_interval", 60)
	v.SetDefault("ratelimit.shared.interval", "60s")
	v.SetDefault("ratelimit.shared.prefix", "pressgate:ratelimit")

	// Journal defaults
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.driver", "libsql")
	v.SetDefault("journal.path", "")
	v.SetDefault("journal.url", "")
	v.SetDefault("journal.auth_token", "")
	v.SetDefault("journal.flush_interval", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.startup_grace_period", "30s")
}

// flattenOverrides converts nested override maps into dotted viper keys so
// runtime overrides take precedence over environment values.
func flattenOverrides(prefix string, overrides map[string]any) map[string]any {
	flat := make(map[string]any)
	for key, value := range overrides {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for nestedKey, nestedValue := range flattenOverrides(path, nested) {
				flat[nestedKey] = nestedValue
			}
			continue
		}
		flat[path] = value
	}
	return flat
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "pressgate" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "pressgate"
	binaryName = "pressgate"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultJournalPath returns the XDG-compliant path to the usage journal.
func DefaultJournalPath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// defaultJournalPath is an unexported alias for internal use.
func defaultJournalPath() string {
	return DefaultJournalPath()
}
