package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pressgate/pressgate/internal/config"
	apperrors "github.com/pressgate/pressgate/internal/errors"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/server/handlers"
	servermw "github.com/pressgate/pressgate/internal/server/middleware"
)

// Server owns the public listener. Domain handlers are injected so the
// package carries no gateway state of its own.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	cfg     config.ServerConfig
	gateway http.Handler
	usage   http.Handler
}

// New builds the router with the full middleware chain and registers all
// routes.
func New(cfg config.ServerConfig, gateway http.Handler, usage http.Handler) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// Ordering: the request id must exist before metrics logs it, and
	// recovery must sit inside metrics so panics still get counted.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	// CORS sits outside the client guard so denials still carry the
	// cross-origin headers browsers need to read them.
	r.Use(servermw.CORS(servermw.CORSOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		MaxAge:         cfg.CORS.MaxAge,
	}))

	if cfg.ClientRate.RequestsPerSecond > 0 {
		r.Use(servermw.ClientRateLimit(servermw.ClientRateOptions{
			RequestsPerSecond: cfg.ClientRate.RequestsPerSecond,
			Burst:             cfg.ClientRate.Burst,
			IdleTTL:           cfg.ClientRate.IdleTTL,
		}))
	}

	// Fallbacks answer in the same envelope shape as everything else.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:  r,
		cfg:     cfg,
		gateway: gateway,
		usage:   usage,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Start blocks on ListenAndServe until shutdown or failure.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	// WriteTimeout commonly stays 0: a deadline here would sever streamed
	// upstream responses mid-body.
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router so tests can mount extra routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port reports the configured listen port.
func (s *Server) Port() int {
	return s.cfg.Port
}
