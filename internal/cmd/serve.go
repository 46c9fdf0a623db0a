package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/credential"
	errwrap "github.com/pressgate/pressgate/internal/errors"
	"github.com/pressgate/pressgate/internal/gateway"
	"github.com/pressgate/pressgate/internal/journal"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/ratelimit"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the gateway server with graceful shutdown support.

The gateway proxies requests under /gateway to the configured upstream,
rotating through the pooled credentials and applying the rate limits.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (new credentials join the pool; structural
    changes need a restart)

On shutdown the HTTP server stops first, then the usage journal takes a
final flush before it closes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get app identity for telemetry namespace
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		// Command-line flags override the config file and environment, but
		// only when explicitly set.
		serverOverrides := map[string]any{}
		if cmd.Flags().Changed("host") {
			serverOverrides["host"] = serverHost
		}
		if cmd.Flags().Changed("port") {
			serverOverrides["port"] = serverPort
		}
		overrides := map[string]any{}
		if len(serverOverrides) > 0 {
			overrides["server"] = serverOverrides
		}

		cfg, err := config.Load(cmd.Context(), overrides)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration load failed")
		}

		// Initialize server logger with namespace
		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)

		// Initialize metrics with namespace
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now().Unix())
		}

		// Build the credential pool
		policy, err := credential.ParsePolicy(cfg.Pool.Selection)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid pool selection policy")
		}
		pool := credential.NewPool(credential.WithPolicy(policy))
		if added := pool.AddList(cfg.Upstream.APIKeys); added == 0 {
			observability.ServerLogger.Warn("Credential pool is empty; callers must supply their own credential")
		}

		// Build the rate limit coordinator, with the optional shared counter
		coordinator, sharedCounter, err := buildCoordinator(cmd.Context(), cfg)
		if err != nil {
			return errwrap.WrapUpstreamUnreachable(cmd.Context(), err, "shared rate-limit counter unavailable")
		}

		observability.ServerLogger.Info("Initializing gateway",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("upstream", cfg.Upstream.BaseURL),
			zap.Int("credentials", pool.Size()),
			zap.String("selection", string(policy)),
			zap.Bool("per_credential_enforced", cfg.RateLimit.PerCredential.Enforce),
			zap.Bool("shared_counter", sharedCounter != nil),
			zap.Bool("journal", cfg.Journal.Enabled))

		gw, err := gateway.New(gateway.Config{
			BaseURL:          cfg.Upstream.BaseURL,
			Timeout:          cfg.Upstream.Timeout,
			KeyParam:         cfg.Upstream.KeyParam,
			CredentialHeader: cfg.Upstream.CredentialHeader,
			CredentialCookie: cfg.Upstream.CredentialCookie,
			StreamMarkers:    cfg.Upstream.StreamMarkers,
		}, pool, coordinator)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "gateway initialization failed")
		}

		// Open the usage journal and start its flusher
		var (
			jnl         *journal.Journal
			stopFlusher context.CancelFunc
			flushDone   chan struct{}
		)
		if cfg.Journal.Enabled {
			jnl, err = journal.Open(cmd.Context(), cfg.Journal)
			if err != nil {
				return errwrap.WrapDatabaseError(cmd.Context(), err, "usage journal open failed")
			}
			if err := jnl.Migrate(cmd.Context()); err != nil {
				_ = jnl.Close()
				return errwrap.WrapDatabaseError(cmd.Context(), err, "usage journal migration failed")
			}

			flusher := journal.NewFlusher(jnl, pool.UsageSnapshot, cfg.Journal.FlushInterval)
			var flusherCtx context.Context
			flusherCtx, stopFlusher = context.WithCancel(context.Background())
			flushDone = make(chan struct{})
			go func() {
				flusher.Run(flusherCtx)
				close(flushDone)
			}()
		}

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		if cfg.Health.Enabled {
			hm.SetStartupGrace(cfg.Health.StartupGracePeriod)
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
			hm.RegisterChecker("app_identity", identityHealthChecker{
				binaryName: identity.BinaryName,
				envPrefix:  identity.EnvPrefix,
				configName: identity.ConfigName,
			})
			hm.RegisterChecker("config", handlers.CheckerFunc(func(ctx context.Context) error {
				if config.GetConfig() == nil {
					return errwrap.NewConfigInvalidError("configuration not loaded")
				}
				return nil
			}))
			// Only gate on the pool when the operator configured keys; a
			// keyless deployment serves caller-supplied credentials.
			if len(cfg.Upstream.APIKeys) > 0 {
				hm.RegisterChecker("credential_pool", handlers.CheckerFunc(func(ctx context.Context) error {
					if pool.IsEmpty() {
						return errwrap.NewConfigInvalidError("credential pool is empty")
					}
					return nil
				}))
			}
			if cfg.Journal.Enabled {
				hm.RegisterChecker("journal", handlers.CheckerFunc(func(ctx context.Context) error {
					if jnl == nil || jnl.DB == nil {
						return errwrap.NewDatabaseError("usage journal unavailable")
					}
					return jnl.DB.PingContext(ctx)
				}))
			}
			if sharedCounter != nil {
				hm.RegisterChecker("shared_counter", handlers.CheckerFunc(func(ctx context.Context) error {
					return sharedCounter.Ping(ctx)
				}))
			}
		}

		// Create server
		usageHandler := handlers.NewUsageHandler(pool, coordinator)
		srv := server.New(cfg.Server, gw, usageHandler)

		// Set app identity for handlers
		handlers.SetAppIdentity(identity)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Close the shared counter connection
		if sharedCounter != nil {
			signals.OnShutdown(func(ctx context.Context) error {
				if err := sharedCounter.Close(); err != nil {
					observability.ServerLogger.Warn("Shared counter close returned error",
						zap.Error(err))
				}
				return nil
			})
		}

		// Handler 3: Close the usage journal after its final flush
		if jnl != nil {
			signals.OnShutdown(func(ctx context.Context) error {
				observability.ServerLogger.Info("Closing usage journal...")
				if err := jnl.Close(); err != nil {
					observability.ServerLogger.Warn("Usage journal close returned error",
						zap.Error(err))
				}
				return nil
			})
			signals.OnShutdown(func(ctx context.Context) error {
				observability.ServerLogger.Info("Stopping usage journal flusher...")
				stopFlusher()
				select {
				case <-flushDone:
				case <-time.After(10 * time.Second):
					observability.ServerLogger.Warn("Usage journal flusher did not stop in time")
				}
				return nil
			})
		}

		// Handler 4: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: reloading configuration")

			fresh, err := config.Load(ctx)
			if err != nil {
				observability.ServerLogger.Error("Config reload failed; keeping the running configuration",
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			// New credentials join the pool live. The pool never shrinks, and
			// server, limiter, and upstream settings apply on restart.
			if added := pool.AddList(fresh.Upstream.APIKeys); added > 0 {
				observability.ServerLogger.Info("Added credentials from reloaded config",
					zap.Int("added", added),
					zap.Int("pool_size", pool.Size()))
			}

			observability.ServerLogger.Info("Configuration reloaded")
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Initialization is complete; open the readiness and startup gates.
		hm.MarkReady()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// bucketConfig maps one configured tier onto a limiter config. A zero burst
// falls back to the per-interval rate, giving a classic full-start bucket.
func bucketConfig(cfg config.BucketConfig) ratelimit.Config {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerInterval
	}
	return ratelimit.Config{
		TokensPerInterval: cfg.RequestsPerInterval,
		Interval:          cfg.Interval,
		MaxTokens:         burst,
	}
}

// buildCoordinator assembles the two-tier coordinator and, when configured,
// connects the Redis shared counter. The counter is returned separately so
// shutdown can close it and the health manager can ping it.
func buildCoordinator(ctx context.Context, cfg *config.Config) (*ratelimit.Coordinator, *ratelimit.RedisCounter, error) {
	var opts []ratelimit.CoordinatorOption
	var counter *ratelimit.RedisCounter

	if cfg.RateLimit.Shared.Enabled {
		var err error
		counter, err = ratelimit.NewRedisCounter(ctx, ratelimit.SharedConfig{
			RedisURL:       cfg.RateLimit.Shared.RedisURL,
			MaxPerInterval: cfg.RateLimit.Shared.MaxPerInterval,
			Interval:       cfg.RateLimit.Shared.Interval,
			Prefix:         cfg.RateLimit.Shared.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, ratelimit.WithSharedCounter(counter))
	}

	coordinator := ratelimit.NewCoordinator(ratelimit.CoordinatorConfig{
		Global:               bucketConfig(cfg.RateLimit.Global),
		PerCredential:        bucketConfig(cfg.RateLimit.PerCredential),
		EnforcePerCredential: cfg.RateLimit.PerCredential.Enforce,
	}, opts...)

	return coordinator, counter, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
