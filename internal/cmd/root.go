package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"

	"github.com/pressgate/pressgate/internal/appid"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/observability"
)

var (
	cfgFile string
	verbose bool

	appIdentity *appidentity.Identity

	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo receives the build metadata injected by main via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity loaded from .fulmen/app.yaml. Valid
// only after initConfig has run.
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

var rootCmd = &cobra.Command{
	// Placeholders until the app identity is loaded.
	Use:   filepath.Base(os.Args[0]),
	Short: "Credential-pooling gateway for AI service APIs",
	Long: `A credential-pooling, rate-limiting gateway for AI service APIs.

Use the subcommands to perform specific operations.`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// applyIdentity rewrites the root command's help surfaces from the app
// identity so the binary name and description come from .fulmen/app.yaml.
func applyIdentity(identity *appidentity.Identity) {
	if identity == nil {
		return
	}
	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
		rootCmd.Long = fmt.Sprintf(
			"%s - %s\n\nUse the subcommands to perform specific operations.",
			identity.BinaryName, identity.Description)
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}
}

func init() {
	// Silence the global telemetry system before anything loads config,
	// so startup never emits metrics to stdout. Serve mode replaces it.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; defaults to app identity config path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	// Best-effort identity load so --help shows the right name even when
	// initConfig has not run yet.
	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		appIdentity = identity
		applyIdentity(identity)
	}

	cobra.OnInitialize(initConfig)
}

// initConfig loads the app identity and prepares the config loader. The
// merge of defaults, file, environment and overrides happens later inside
// config.Load, which each command calls with its own runtime overrides.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitFileNotFound, "Failed to load app identity from .fulmen/app.yaml", err)
	}
	appIdentity = identity
	applyIdentity(identity)

	// Commands may log while config is still loading.
	observability.InitCLILogger(appIdentity.BinaryName, verbose)

	// An explicit --config pins the file; otherwise config.Load walks the
	// XDG search paths.
	config.SetConfigFile(cfgFile)
}
