// Package repository defines the storage interfaces used by the service layer.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/code-runner/internal/executor"
)

// ErrCacheMiss is returned by ResultCache.Get when no live entry exists.
var ErrCacheMiss = errors.New("cache miss")

// ResultCache stores successful execution results by request digest.
type ResultCache interface {
	Get(ctx context.Context, key string) (*executor.ExecutionResult, error)
	Put(ctx context.Context, key, language string, result *executor.ExecutionResult, ttl time.Duration) error
	// PurgeExpired deletes expired entries and returns how many were removed.
	PurgeExpired(ctx context.Context) (int64, error)
}
