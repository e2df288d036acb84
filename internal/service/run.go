// Package service contains the orchestration layer between the HTTP
// handlers and the language engines.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (this package)   → resolves the language, validates, caches
//	Engine  (executor)       → compiles and runs the code
//
// RunService takes its collaborators as interfaces (repository.ResultCache)
// or small registries, so tests pass hand-written fakes.
package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/metrics"
	"github.com/sakif/code-runner/internal/repository"
)

// RunService executes requests against the registered engines.
type RunService struct {
	registry *executor.Registry
	cache    repository.ResultCache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRunService creates a RunService. cache and m may be nil.
func NewRunService(registry *executor.Registry, cache repository.ResultCache, cacheTTL time.Duration, m *metrics.Metrics, logger *slog.Logger) *RunService {
	return &RunService{
		registry: registry,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  m,
		logger:   logger,
	}
}

// Languages lists the languages that can be run.
func (s *RunService) Languages() []string {
	return s.registry.Languages()
}

// Run executes req with the engine registered for language.
//
// Only successful results are cached. A failing cache never fails the
// request; the lookup or store is logged and skipped.
func (s *RunService) Run(ctx context.Context, language string, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	canonical, ok := s.registry.Resolve(language)
	if !ok {
		return nil, apperror.UnknownLanguage(language)
	}
	engine, _ := s.registry.Lookup(canonical)

	if err := executor.Validate(req); err != nil {
		return nil, err
	}

	var key string
	if s.cache != nil {
		k, err := CacheKey(canonical, req)
		if err != nil {
			return nil, apperror.EngineFault("failed to compute cache key", err)
		}
		key = k

		if res := s.lookup(ctx, key); res != nil {
			return res, nil
		}
	}

	res, err := engine.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && cacheable(res) {
		// A client that has gone away should not lose the entry.
		if err := s.cache.Put(context.WithoutCancel(ctx), key, canonical, res, s.cacheTTL); err != nil {
			s.logger.Warn("failed to store result", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// cacheable reports whether res ran to completion. Failures are never stored.
func cacheable(res *executor.ExecutionResult) bool {
	return res.Outcome == executor.OutcomeCompleted && res.ExitCode == 0
}

func (s *RunService) lookup(ctx context.Context, key string) *executor.ExecutionResult {
	res, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		s.metrics.RecordCacheLookup("hit")
		return res
	case errors.Is(err, repository.ErrCacheMiss):
		s.metrics.RecordCacheLookup("miss")
	default:
		s.metrics.RecordCacheLookup("error")
		s.logger.Warn("result cache lookup failed", slog.String("error", err.Error()))
	}
	return nil
}

// cacheKeyInput is what makes two requests interchangeable. encoding/json
// writes map keys sorted, so equal env maps encode identically.
type cacheKeyInput struct {
	Language string            `json:"language"`
	Code     string            `json:"code"`
	Timeout  *float64          `json:"timeout"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env"`
}

// CacheKey returns the hex blake2b-256 digest identifying req for language.
func CacheKey(language string, req executor.ExecutionRequest) (string, error) {
	data, err := json.Marshal(cacheKeyInput{
		Language: language,
		Code:     req.Code,
		Timeout:  req.Timeout,
		Args:     req.Args,
		Env:      req.Env,
	})
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
