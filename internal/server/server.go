// Package server is the composition root of the HTTP service: it wires
// handlers, middleware and routes, runs the maintenance sweeper and shuts
// everything down in order.
//
// ROUTES:
//
//	GET  /health           -> "OK"
//	GET  /metrics          -> prometheus text format
//	GET  /languages        -> default and registered languages
//	POST /run              -> run in the configured default language
//	POST /{language}/run   -> run in the named language
//
// The run routes carry the request size cap and, when a JWT secret is
// configured, the bearer-token guard.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/handler"
	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/middleware"
)

const shutdownTimeout = 30 * time.Second

// Deps are the collaborators built by the caller.
type Deps struct {
	Runner  handler.Runner
	Metrics *metrics.Metrics
	// Tokens enables bearer-token auth on the run routes when non-nil.
	Tokens *auth.TokenService
	// TracerProvider receives the HTTP server spans; nil disables them.
	TracerProvider trace.TracerProvider
	// Jobs run on the sweeper schedule.
	Jobs []Job
}

// Server represents the HTTP server and the resources it owns.
type Server struct {
	router  *chi.Mux
	handler http.Handler
	config  *config.Config
	logger  *slog.Logger
	sweeper *Sweeper
	onStop  []func(context.Context) error
}

// New wires routes and the sweeper. Nothing listens until Start or Serve.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("server: a runner is required")
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	if len(deps.Jobs) > 0 {
		sweeper, err := NewSweeper(cfg.Sweeper.Schedule, deps.Jobs, logger)
		if err != nil {
			return nil, err
		}
		s.sweeper = sweeper
	}

	s.setupRoutes(deps)

	s.handler = s.router
	if deps.TracerProvider != nil {
		s.handler = otelhttp.NewHandler(s.router, "http.server",
			otelhttp.WithTracerProvider(deps.TracerProvider),
			// middleware.RouteSpan renames the span once the route is known.
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method
			}),
		)
	}
	return s, nil
}

func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(deps.Metrics))
	s.router.Use(middleware.RouteSpan)
	s.router.Use(chimiddleware.Recoverer)

	runHandler := handler.NewRunHandler(deps.Runner, s.config.Server.Language, s.logger)

	s.router.Get("/health", handler.HandleHealth)
	s.router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	s.router.Get("/languages", runHandler.HandleLanguages)

	s.router.Group(func(r chi.Router) {
		r.Use(chimiddleware.RequestSize(s.config.Server.MaxRequestSize))
		if deps.Tokens != nil {
			r.Use(auth.RequireToken(deps.Tokens))
		}
		r.Post("/run", runHandler.HandleRun)
		r.Post("/{language}/run", runHandler.HandleRun)
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// OnShutdown registers fn to run after the listener is closed. Hooks run in
// reverse registration order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.onStop = append(s.onStop, fn)
}

// Start listens on the configured port and blocks until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.handler,
		ReadTimeout: 15 * time.Second,
		// Long enough for the slowest language's ceiling plus its build step.
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	if s.sweeper != nil {
		s.sweeper.Start()
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.String("language", s.config.Server.Language),
		)
		serverErrors <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := []error{serveErr}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	if s.sweeper != nil {
		s.sweeper.Stop(shutdownCtx)
	}
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

func (s *Server) writeTimeout() time.Duration {
	longest := time.Duration(0)
	for _, lang := range config.Languages() {
		if c := s.config.Ceiling(lang); c > longest {
			longest = c
		}
	}
	return longest + s.config.Compiler.Timeout + 15*time.Second
}
