package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pressgate/pressgate/internal/config"
	errwrap "github.com/pressgate/pressgate/internal/errors"
	"github.com/pressgate/pressgate/internal/journal"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/ratelimit"
)

type checkLevel int

const (
	checkOK checkLevel = iota
	checkWarn
	checkFail
)

// checkResult is one doctor line. A fail with exitCode set aborts the run
// through ExitWithCode after logging.
type checkResult struct {
	level    checkLevel
	message  string
	fields   []zap.Field
	exitCode foundry.ExitCode
	exitErr  error
}

func passCheck(message string, fields ...zap.Field) checkResult {
	return checkResult{level: checkOK, message: "✅ " + message, fields: fields}
}

func warnCheck(message string, fields ...zap.Field) checkResult {
	return checkResult{level: checkWarn, message: "⚠️  " + message, fields: fields}
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		identity := GetAppIdentity()

		banner := "doctor"
		if identity != nil && identity.BinaryName != "" {
			banner = identity.BinaryName + " doctor"
		}
		log.Info("=== " + banner + " ===")
		log.Info("")
		log.Info("Running diagnostic checks...")
		log.Info("")

		cfg, cfgErr := config.Load(ctx)

		checks := []struct {
			name string
			run  func() checkResult
		}{
			{"Go version", checkGoVersion},
			{"Crucible access", checkCrucible},
			{"Gofulmen access", checkGofulmen},
			{"config directory", checkConfigDir},
			{"environment", checkEnvironment},
			{"usage journal", func() checkResult { return checkJournalFile(cfg, cfgErr) }},
			{"upstream", func() checkResult { return checkUpstream(cfg, cfgErr) }},
			{"shared counter", func() checkResult { return checkSharedCounter(ctx, cfg, cfgErr) }},
		}

		healthy := true
		for i, check := range checks {
			result := check.run()
			line := fmt.Sprintf("[%d/%d] Checking %s... %s", i+1, len(checks), check.name, result.message)
			switch result.level {
			case checkOK:
				log.Info(line, result.fields...)
			case checkWarn:
				log.Warn(line, result.fields...)
				healthy = false
			case checkFail:
				log.Error(line, result.fields...)
				ExitWithCode(log, result.exitCode, result.message, result.exitErr)
			}
		}

		log.Info("")
		if healthy {
			appName := "pressgate"
			if identity != nil && identity.BinaryName != "" {
				appName = identity.BinaryName
			}
			log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", appName))
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		log.Info("")
		log.Info("=== End Diagnostics ===")
	},
}

func checkGoVersion() checkResult {
	v := runtime.Version()
	if v >= "go1.23" {
		return passCheck(v, zap.String("go_version", v))
	}
	return warnCheck(v+" (recommended: go1.23+)", zap.String("go_version", v))
}

func checkCrucible() checkResult {
	v := crucible.GetVersion().Crucible
	if v == "" {
		return checkResult{
			level:    checkFail,
			message:  "❌ Cannot access Crucible",
			exitCode: foundry.ExitExternalServiceUnavailable,
			exitErr:  errwrap.NewInternalError("Crucible service unavailable"),
		}
	}
	return passCheck("v"+v, zap.String("crucible_version", v))
}

func checkGofulmen() checkResult {
	v := crucible.GetVersion().Gofulmen
	if v == "" {
		return warnCheck("Cannot access Gofulmen")
	}
	return passCheck("v"+v, zap.String("gofulmen_version", v))
}

func checkConfigDir() checkResult {
	configPath := config.DefaultConfigPath()
	if configPath == "" {
		return checkResult{
			level:    checkFail,
			message:  "❌ Cannot resolve config directory",
			exitCode: foundry.ExitFileNotFound,
			exitErr:  errwrap.NewInternalError("config directory not resolved"),
		}
	}
	dir := filepath.Dir(configPath)
	return passCheck(dir, zap.String("config_dir", dir))
}

func checkEnvironment() checkResult {
	return passCheck(runtime.GOOS+"/"+runtime.GOARCH,
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
}

func checkJournalFile(cfg *config.Config, cfgErr error) checkResult {
	if cfgErr != nil {
		return warnCheck("config not loaded", zap.Error(cfgErr))
	}
	if cfg.Journal.URL != "" {
		return passCheck(cfg.Journal.URL+" (remote)", zap.String("journal_url", cfg.Journal.URL))
	}

	path := cfg.Journal.Path
	if path == "" {
		path = config.DefaultJournalPath()
	}
	abs, _ := filepath.Abs(path)

	info, err := os.Stat(abs)
	switch {
	case err == nil:
		return passCheck(fmt.Sprintf("%s (%s)", abs, formatFileSize(info.Size())),
			zap.String("journal_path", abs),
			zap.Int64("journal_size", info.Size()))
	case os.IsNotExist(err):
		// The journal appears on first recorded use, so this stays healthy.
		return checkResult{
			level:   checkOK,
			message: "⚠️  " + abs + " (not created yet)",
			fields:  []zap.Field{zap.String("journal_path", abs)},
		}
	default:
		return warnCheck(fmt.Sprintf("%s (error: %v)", abs, err),
			zap.String("journal_path", abs), zap.Error(err))
	}
}

func checkUpstream(cfg *config.Config, cfgErr error) checkResult {
	if cfgErr != nil {
		return warnCheck("skipped (config not loaded)")
	}

	parsed, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil || parsed.Scheme == "" {
		return warnCheck(fmt.Sprintf("invalid base URL %q", cfg.Upstream.BaseURL))
	}

	keys := len(cfg.Upstream.APIKeys)
	if keys == 0 {
		return passCheck(parsed.Host+" (no pooled credentials; callers must supply their own)",
			zap.String("upstream", parsed.Host))
	}
	return passCheck(fmt.Sprintf("%s (%d credential(s) pooled)", parsed.Host, keys),
		zap.String("upstream", parsed.Host),
		zap.Int("credentials", keys))
}

func checkSharedCounter(ctx context.Context, cfg *config.Config, cfgErr error) checkResult {
	if cfgErr != nil {
		return warnCheck("skipped (config not loaded)")
	}
	if !cfg.RateLimit.Shared.Enabled {
		return passCheck("not configured (single-instance mode)")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	counter, err := ratelimit.NewRedisCounter(connectCtx, ratelimit.SharedConfig{
		RedisURL:       cfg.RateLimit.Shared.RedisURL,
		MaxPerInterval: cfg.RateLimit.Shared.MaxPerInterval,
		Interval:       cfg.RateLimit.Shared.Interval,
		Prefix:         cfg.RateLimit.Shared.Prefix,
	})
	if err != nil {
		return warnCheck("cannot connect", zap.Error(err))
	}
	_ = counter.Close()
	return passCheck("connected")
}

var (
	doctorInitForce   bool
	doctorInitAPIKey  string
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		apiKey := strings.TrimSpace(doctorInitAPIKey)
		if strings.EqualFold(apiKey, "prompt") {
			key, err := promptForValue("Enter upstream API key (leave blank to skip): ")
			if err != nil {
				return err
			}
			apiKey = key
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		// Tighten the mode when a secret lands in the file.
		mode := os.FileMode(0644)
		if apiKey != "" {
			mode = 0600
		}

		if err := os.WriteFile(configPath, []byte(buildInitConfig(apiKey)), mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		configPath := config.DefaultConfigPath()

		log.Info("Configuration:")
		log.Info(fmt.Sprintf("  Config file:   %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		if dataDir := config.DefaultDataDir(); dataDir != "" {
			log.Info(fmt.Sprintf("  Data directory: %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		} else {
			log.Info("  Data directory: (not resolved)")
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return nil
		}

		if cfg.Journal.URL != "" {
			log.Info(fmt.Sprintf("  Usage journal: %s (remote)", cfg.Journal.URL))
		} else {
			path := cfg.Journal.Path
			if path == "" {
				path = config.DefaultJournalPath()
			}
			abs, _ := filepath.Abs(path)
			if info, statErr := os.Stat(abs); statErr == nil {
				log.Info(fmt.Sprintf("  Usage journal: %s (%s)", abs, formatFileSize(info.Size())))
			} else if os.IsNotExist(statErr) {
				log.Info(fmt.Sprintf("  Usage journal: %s (not created yet)", abs))
			} else {
				log.Warn("Usage journal status error", zap.String("journal_path", abs), zap.Error(statErr))
			}
		}

		reportJournalContents(cmd.Context())

		envName := "PRESSGATE_UPSTREAM_API_KEYS"
		if identity := GetAppIdentity(); identity != nil && identity.EnvPrefix != "" {
			envName = identity.EnvPrefix + "UPSTREAM_API_KEYS"
		}
		log.Info("")
		log.Info("Environment:")
		log.Info("  " + envName + ": " + envStatus(envName))

		log.Info("")
		log.Info("Effective Settings:")
		log.Info(fmt.Sprintf("  pool.selection: %s", cfg.Pool.Selection))
		log.Info(fmt.Sprintf("  ratelimit.per_credential.enforce: %t", cfg.RateLimit.PerCredential.Enforce))
		log.Info(fmt.Sprintf("  journal.enabled: %t", cfg.Journal.Enabled))

		return nil
	},
}

func reportJournalContents(ctx context.Context) {
	log := observability.CLILogger
	j, err := openJournal(ctx)
	if err != nil {
		log.Warn("Journal contents: unavailable (cannot open journal)", zap.Error(err))
		return
	}
	defer j.Close() //nolint:errcheck

	count, err := j.Count(ctx, journal.Query{All: true})
	switch {
	case err != nil:
		log.Warn("Journal contents: unavailable (count failed)", zap.Error(err))
	case count == 0:
		log.Info("  Journal contents: empty (no usage recorded yet)")
	default:
		log.Info(fmt.Sprintf("  Journal contents: %d credential(s) (%s)", count, formatTimeAgo(latestJournalUpdate(ctx, j))),
			zap.Int("journaled_credentials", count))
	}
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}
		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := removeIfPresent(configPath, "Config"); err != nil {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Journal.URL != "" {
				return fmt.Errorf("remote journal configured; journal reset is not supported")
			}

			path := cfg.Journal.Path
			if path == "" {
				path = config.DefaultJournalPath()
			}
			abs, _ := filepath.Abs(path)
			if err := removeIfPresent(abs, "Usage journal"); err != nil {
				return fmt.Errorf("remove usage journal: %w", err)
			}
		}

		return nil
	},
}

func removeIfPresent(path string, label string) error {
	switch err := os.Remove(path); {
	case err == nil:
		observability.CLILogger.Info(label+" removed", zap.String("path", path))
	case os.IsNotExist(err):
		observability.CLILogger.Info(label+" already removed", zap.String("path", path))
	default:
		return err
	}
	return nil
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		// Syntax first: a YAML parse error points at the offending line,
		// which the full loader buries under decode noise.
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("config file is not valid YAML: %w", err)
		}

		// Then semantics: defaults, env overlay, and range checks.
		if _, err := config.Load(cmd.Context()); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitAPIKey, "api-key", "", "seed one upstream api key or use 'prompt' to enter")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local usage journal")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

func formatFileSize(n int64) string {
	const kb = 1024
	units := []struct {
		limit int64
		name  string
	}{
		{kb * kb * kb, "GB"},
		{kb * kb, "MB"},
		{kb, "KB"},
	}
	for _, u := range units {
		if n >= u.limit {
			return fmt.Sprintf("%.1f %s", float64(n)/float64(u.limit), u.name)
		}
	}
	return fmt.Sprintf("%d bytes", n)
}

func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

// latestJournalUpdate finds the most recent flush across journal rows. Rows
// are ordered by usage, not recency, so this scans.
func latestJournalUpdate(ctx context.Context, j *journal.Journal) time.Time {
	entries, err := j.List(ctx, journal.Query{All: true})
	if err != nil {
		return time.Time{}
	}
	var latest time.Time
	for _, entry := range entries {
		if entry.UpdatedAt.After(latest) {
			latest = entry.UpdatedAt
		}
	}
	return latest
}

func buildInitConfig(apiKey string) string {
	lines := []string{
		"# pressgate config - created by 'pressgate doctor init'",
		"server:",
		"  host: localhost",
		"  port: 8080",
		"upstream:",
		"  base_url: https://generativelanguage.googleapis.com",
	}

	if strings.TrimSpace(apiKey) != "" {
		lines = append(lines,
			"  api_keys:",
			fmt.Sprintf("    - %q", apiKey),
		)
	} else {
		lines = append(lines,
			"  # api_keys:",
			"  #   - \"\"  # Set via PRESSGATE_UPSTREAM_API_KEYS (comma-separated) or uncomment",
		)
	}

	lines = append(lines,
		"pool:",
		"  selection: round_robin",
		"ratelimit:",
		"  global:",
		"    requests_per_interval: 60",
		"    interval: 60s",
		"  per_credential:",
		"    requests_per_interval: 60",
		"    interval: 60s",
		"    enforce: false",
		"journal:",
		"  enabled: true",
	)

	return strings.Join(lines, "\n") + "\n"
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	value, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
