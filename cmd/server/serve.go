package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/executor/compiler"
	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/repository"
	"github.com/sakif/code-runner/internal/repository/sqlite"
	"github.com/sakif/code-runner/internal/server"
	"github.com/sakif/code-runner/internal/service"
	"github.com/sakif/code-runner/internal/tracing"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	Long: `Start the HTTP service.

Examples:
  code-runner serve
  LANGUAGE=typescript code-runner serve --port 8001
  DOCKER_ENABLED=true code-runner serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	logger := newLogger(cfg.Log.Level)

	var tokens *auth.TokenService
	if cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokenService(cfg.Auth.JWTSecret)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("JWT_SECRET not set, run endpoints are unauthenticated")
	}

	tp, err := tracing.New(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	m := metrics.New()

	registry, err := buildRegistry(cmd.Context(), cfg, logger, m, tp.Tracer())
	if err != nil {
		return err
	}

	var (
		cache repository.ResultCache
		jobs  []server.Job
		db    *sqlite.DB
	)
	if cfg.Cache.Path != "" {
		if dir := filepath.Dir(cfg.Cache.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				_ = registry.Close()
				return fmt.Errorf("creating cache directory: %w", err)
			}
		}
		db, err = sqlite.New(cfg.Cache.Path)
		if err != nil {
			_ = registry.Close()
			return fmt.Errorf("opening result cache: %w", err)
		}
		cache = db
		jobs = append(jobs, server.Job{Name: "cache", Run: db.PurgeExpired})
	}

	scratch := cfg.Compiler.ScratchDir
	stale := 2 * cfg.Compiler.Timeout
	jobs = append(jobs, server.Job{Name: "scratch", Run: func(context.Context) (int64, error) {
		n, err := compiler.SweepStale(scratch, stale)
		return int64(n), err
	}})

	runs := service.NewRunService(registry, cache, cfg.Cache.TTL, m, logger)

	srv, err := server.New(cfg, server.Deps{
		Runner:         runs,
		Metrics:        m,
		Tokens:         tokens,
		TracerProvider: tp.Provider(),
		Jobs:           jobs,
	}, logger)
	if err != nil {
		_ = registry.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	srv.OnShutdown(tp.Shutdown)
	if db != nil {
		srv.OnShutdown(func(context.Context) error { return db.Close() })
	}
	srv.OnShutdown(func(context.Context) error { return registry.Close() })

	logger.Info("engines ready",
		slog.Any("languages", registry.Languages()),
		slog.String("default", cfg.Server.Language),
		slog.Duration("ceiling", cfg.Ceiling(cfg.Server.Language)),
		slog.Bool("cache", cache != nil),
		slog.Bool("auth", tokens != nil),
		slog.Duration("compileTimeout", cfg.Compiler.Timeout.Round(time.Second)),
	)

	return srv.Start()
}
