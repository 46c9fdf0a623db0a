package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/appid"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	// Masked credential usage snapshot.
	if s.usage != nil {
		s.router.Get("/usage", s.usage.ServeHTTP)
	}

	// The proxy owns everything under its prefix, including its own method
	// gate, so it mounts for all verbs.
	if s.gateway != nil {
		s.router.Handle("/gateway", s.gateway)
		s.router.Handle("/gateway/*", s.gateway)
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts the signal endpoint only when an admin token
// is configured through the environment.
func (s *Server) registerAdminEndpoint() {
	envPrefix := "PRESSGATE_"
	if identity, _ := appid.Get(context.Background()); identity != nil && identity.EnvPrefix != "" {
		envPrefix = identity.EnvPrefix
	}

	logger := observability.ServerLogger
	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
