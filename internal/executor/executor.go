// Package executor defines the execution contract shared by every language
// backend: the request and result shapes, request validation, timeout
// resolution and the normalization of every outcome into one result.
package executor

import (
	"context"
)

// ExecutionRequest represents a request to execute a source snippet.
//
// Timeout is in seconds and optional; it is always clamped by the backend's
// ceiling (see ResolveTimeout).
type ExecutionRequest struct {
	Code    string            `json:"code"`
	Timeout *float64          `json:"timeout,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ExecutionResult represents the output and status of the code execution.
//
// Exactly one outcome is represented: success (Error empty, ExitCode 0) or
// failure (Error set, ExitCode 1). ExecutionTime is in milliseconds.
type ExecutionResult struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExitCode      int    `json:"exitCode"`
	ExecutionTime int64  `json:"executionTime"`
	Error         string `json:"error"`

	// Outcome tags which path produced the result. It is not serialized.
	Outcome Outcome `json:"-"`
}

// Executor represents the core interface for running code in an isolated environment.
//
// A non-nil error is returned only for invalid requests (apperror.ErrInvalidRequest)
// and failures of the service itself (apperror.ErrEngineFault). Code that fails
// to compile, crashes or times out yields a result, not an error.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
