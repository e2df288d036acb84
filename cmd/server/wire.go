package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/executor/compiler"
	"github.com/sakif/code-runner/internal/executor/docker"
	"github.com/sakif/code-runner/internal/executor/sandbox"
	"github.com/sakif/code-runner/internal/metrics"
)

// engineConfig derives the per-language engine settings from cfg.
func engineConfig(cfg *config.Config, language string, pre executor.Preprocessor) executor.EngineConfig {
	ceiling, fallback := cfg.Limits(language)
	return executor.EngineConfig{
		Language:       language,
		Limits:         executor.TimeoutPolicy{Ceiling: ceiling, Default: fallback},
		MaxOutputBytes: cfg.Engine.MaxOutputBytes,
		Preprocessor:   pre,
	}
}

// buildRegistry registers JavaScript, TypeScript and, when docker is enabled
// and reachable, Python and Go. A docker failure only leaves those out.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) (*executor.Registry, error) {
	reg := executor.NewRegistry()
	register := func(language string, runner executor.Runner, pre executor.Preprocessor) error {
		engine := executor.NewEngine(engineConfig(cfg, language, pre), runner, logger, m, tracer)
		return reg.Register(language, engine, config.Aliases(language)...)
	}

	js := sandbox.NewRunner(logger)
	if err := register(config.LanguageJavaScript, js, nil); err != nil {
		return nil, err
	}

	tsc, err := compiler.New(compiler.TypeScript(cfg.CompilerArgv(), cfg.Compiler.Timeout, cfg.Compiler.ScratchDir), logger)
	if err != nil {
		return nil, fmt.Errorf("creating typescript compiler: %w", err)
	}
	if err := register(config.LanguageTypeScript, js, tsc); err != nil {
		return nil, err
	}

	if !cfg.Docker.Enabled {
		return reg, nil
	}

	for _, backend := range dockerBackends(cfg) {
		runner, err := docker.New(ctx, backend.config, logger)
		if err != nil {
			logger.Warn("docker unavailable, language is disabled",
				slog.String("language", backend.language),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := m.ObservePool(backend.config.Toolchain.Name, runner.IdleContainers); err != nil {
			logger.Warn("pool gauge not registered", slog.String("error", err.Error()))
		}
		if err := register(backend.language, runner, nil); err != nil {
			_ = runner.Close()
			_ = reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

type dockerBackend struct {
	language string
	config   docker.Config
}

// dockerBackends derives the container settings of Python and, when a Go
// image is configured, Go.
func dockerBackends(cfg *config.Config) []dockerBackend {
	py := docker.DefaultConfig()
	py.Image = cfg.Docker.Image
	py.MemoryLimit = cfg.Docker.MemoryLimit
	py.CPULimit = cfg.Docker.CPULimit
	py.PoolSize = cfg.Docker.PoolSize
	backends := []dockerBackend{{language: config.LanguagePython, config: py}}

	if cfg.Docker.GoImage != "" {
		gc := docker.GoConfig()
		gc.Image = cfg.Docker.GoImage
		if cfg.Docker.GoMemoryLimit > 0 {
			gc.MemoryLimit = cfg.Docker.GoMemoryLimit
		}
		if cfg.Docker.GoPoolSize > 0 {
			gc.PoolSize = cfg.Docker.GoPoolSize
		}
		gc.BuildTimeout = cfg.Compiler.Timeout
		backends = append(backends, dockerBackend{language: config.LanguageGo, config: gc})
	}
	return backends
}
