package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/observability"
)

func TestInitCLILogger(t *testing.T) {
	observability.InitCLILogger("test-service", false)
	require.NotNil(t, observability.CLILogger)

	observability.CLILogger.Info("cli logger check", zap.String("test", "value"))
}

func TestInitServerLogger(t *testing.T) {
	observability.InitServerLogger("test-service", "info")
	require.NotNil(t, observability.ServerLogger)

	observability.ServerLogger.Info("structured logger check",
		zap.String("component", "test"),
		zap.Int("request_id", 123))
}

func TestVerboseCLILoggerAcceptsDebug(t *testing.T) {
	logger, err := logging.NewCLI("verbose-test")
	require.NoError(t, err)

	logger.SetLevel(logging.DEBUG)
	logger.Debug("debug line", zap.String("mode", "verbose"))
}

// Proxy log lines carry correlation IDs so a denied or failed request can
// be traced end to end.
func TestStructuredProfileWithCorrelation(t *testing.T) {
	logger, err := logging.New(&logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: "INFO",
		Service:      "correlation-test",
		Environment:  "test",
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
	})
	require.NoError(t, err)

	logger.Info("correlated line", zap.String("feature", "correlation"))
}

// The version endpoint surfaces crucible metadata, so it has to resolve.
func TestCrucibleVersionMetadata(t *testing.T) {
	version := crucible.GetVersion()
	require.NotEmpty(t, version.Gofulmen)
	require.NotEmpty(t, version.Crucible)

	require.NotEmpty(t, crucible.GetVersionString())
}
