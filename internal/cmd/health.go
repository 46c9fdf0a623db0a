package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/config"
	errwrap "github.com/pressgate/pressgate/internal/errors"
	"github.com/pressgate/pressgate/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the application can start successfully.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		if log == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized",
				errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		log.Info("Running health check...")
		log.Info("✅ Logger initialized")

		if versionInfo.Version == "" {
			log.Error("❌ FAIL: Version information missing")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing",
				errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")

		if _, err := config.Load(cmd.Context()); err != nil {
			log.Error("❌ FAIL: Configuration invalid", zap.Error(err))
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid",
				errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		log.Info("✅ Configuration loads and validates")

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
