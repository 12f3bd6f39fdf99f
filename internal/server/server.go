package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sundayezeilo/linkshare/internal/auth"
	"github.com/sundayezeilo/linkshare/internal/config"
	"github.com/sundayezeilo/linkshare/internal/httpx"
	"github.com/sundayezeilo/linkshare/internal/links"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server with all dependencies.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	handler *links.Handler
	gate    *auth.Gate
	db      Pinger
	server  *http.Server
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *slog.Logger, handler *links.Handler, gate *auth.Gate, db Pinger) *Server {
	return &Server{
		config:  cfg,
		logger:  logger,
		handler: handler,
		gate:    gate,
		db:      db,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.applyMiddleware(s.setupRoutes())
}

// Start serves until ctx is canceled, then shuts down within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	// Listen for errors from the server
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		s.logger.Info("received shutdown signal", "cause", context.Cause(ctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		s.logger.Info("server stopped gracefully")
		return nil
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/x/health", s.healthCheckHandler)
	r.Get("/x/ready", s.readinessHandler)

	r.Route("/links", func(r chi.Router) {
		r.With(s.gate.Require(auth.Session)).Post("/", s.handler.CreateLink)
		r.With(s.gate.Require(auth.Session|auth.Admin)).Get("/", s.handler.ListLinks)

		r.Get("/{id}", s.handler.GetLink)
		r.Post("/{id}/click", s.handler.RecordClick)

		r.Group(func(r chi.Router) {
			r.Use(s.gate.Require(auth.Session | auth.Admin))
			r.Patch("/{id}", s.handler.UpdateLink)
			r.Delete("/{id}", s.handler.DeleteLink)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	return r
}

// applyMiddleware wraps the handler with middleware in the correct order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Validated at config load; a bad entry here leaves headers untrusted.
	trusted, err := httpx.ParseTrustedProxies(s.config.Server.TrustedProxies)
	if err != nil {
		s.logger.Warn("ignoring trusted proxies", "error", err.Error())
		trusted = nil
	}

	return httpx.Chain(
		httpx.Recovery(s.logger), // Outermost: catch panics
		httpx.RequestID,          // Add request ID
		httpx.RealIP(trusted),
		httpx.Logger(s.logger), // Log requests
		httpx.CORS(s.config.Server.CORSOrigins, s.gate.AdminHeader()),
	)(handler)
}

// healthCheckHandler handles health check requests.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.config.App.Name,
		"version": s.config.App.Version,
	})
}

// readinessHandler reports whether the store answers within a short deadline.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "readiness check failed", "error", err.Error())
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return nil
}
