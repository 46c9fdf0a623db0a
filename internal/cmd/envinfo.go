package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/observability"
)

func printSection(title string, lines ...string) {
	log := observability.CLILogger
	log.Info(title + ":")
	for _, line := range lines {
		log.Info("  " + line)
	}
	log.Info("")
}

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		ssot := crucible.GetVersion()
		identity := GetAppIdentity()

		log.Info("=== Gateway Environment Information ===")
		log.Info("")

		printSection("Application",
			"Name:       "+identity.BinaryName,
			"Version:    "+versionInfo.Version,
			"Commit:     "+versionInfo.Commit,
			"Built:      "+versionInfo.BuildDate,
		)

		printSection("SSOT",
			"Gofulmen:   "+ssot.Gofulmen,
			"Crucible:   "+ssot.Crucible,
		)

		printSection("Runtime",
			"Go Version: "+runtime.Version(),
			"GOOS:       "+runtime.GOOS,
			"GOARCH:     "+runtime.GOARCH,
			fmt.Sprintf("NumCPU:     %d", runtime.NumCPU()),
		)

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		printSection("Configuration",
			"Server Host:    "+cfg.Server.Host,
			fmt.Sprintf("Server Port:    %d", cfg.Server.Port),
			"Log Level:      "+cfg.Logging.Level,
			"Log Profile:    "+cfg.Logging.Profile,
			fmt.Sprintf("Metrics Port:   %d", cfg.Metrics.Port),
			"Config File:    "+config.DefaultConfigPath(),
		)

		pooled := "(none; callers supply their own)"
		if n := len(cfg.Upstream.APIKeys); n > 0 {
			pooled = fmt.Sprintf("%d configured", n)
		}
		printSection("Upstream",
			"Base URL:       "+cfg.Upstream.BaseURL,
			"Timeout:        "+cfg.Upstream.Timeout.String(),
			"Key Param:      "+cfg.Upstream.KeyParam,
			"Cred Header:    "+cfg.Upstream.CredentialHeader,
			"Cred Cookie:    "+cfg.Upstream.CredentialCookie,
			"API Keys:       "+pooled,
			"Selection:      "+cfg.Pool.Selection,
		)

		shared := "disabled (single-instance mode)"
		if cfg.RateLimit.Shared.Enabled {
			shared = fmt.Sprintf("%d per %s", cfg.RateLimit.Shared.MaxPerInterval, cfg.RateLimit.Shared.Interval)
		}
		printSection("Rate Limits",
			fmt.Sprintf("Global:         %.0f per %s (burst %.0f)",
				cfg.RateLimit.Global.RequestsPerInterval, cfg.RateLimit.Global.Interval, cfg.RateLimit.Global.Burst),
			fmt.Sprintf("Per Credential: %.0f per %s (burst %.0f)",
				cfg.RateLimit.PerCredential.RequestsPerInterval, cfg.RateLimit.PerCredential.Interval, cfg.RateLimit.PerCredential.Burst),
			fmt.Sprintf("Enforce:        %t", cfg.RateLimit.PerCredential.Enforce),
			"Shared Counter: "+shared,
		)

		store := "Path:           " + cfg.Journal.Path
		if strings.TrimSpace(cfg.Journal.URL) != "" {
			store = "URL:            " + cfg.Journal.URL
		}
		printSection("Usage Journal",
			fmt.Sprintf("Enabled:        %t", cfg.Journal.Enabled),
			"Driver:         "+cfg.Journal.Driver,
			store,
			"Flush Interval: "+cfg.Journal.FlushInterval.String(),
		)

		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
