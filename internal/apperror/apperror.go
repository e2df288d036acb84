// Package apperror defines the error taxonomy shared by the execution engine
// and the HTTP boundary.
//
// Only three kinds ever reach the boundary as errors: ErrInvalidRequest (400),
// ErrUnknownLanguage (404) and ErrEngineFault (500). ErrCompile, ErrTimedOut
// and ErrRuntimeFault describe the caller's code failing, which is reported
// as a normal result.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnknownLanguage = errors.New("unknown language")
	ErrCompile         = errors.New("compile error")
	ErrTimedOut        = errors.New("execution timed out")
	ErrRuntimeFault    = errors.New("runtime fault")
	ErrEngineFault     = errors.New("engine fault")
)

type AppError struct {
	Err     error  // sentinel from the list above
	Message string // Human-readable error message
	Field   string // Optional: request field causing the error
	Cause   error  // Optional: underlying error for engine faults
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func InvalidRequest(field, message string) *AppError {
	return &AppError{
		Err:     ErrInvalidRequest,
		Message: message,
		Field:   field,
	}
}

func UnknownLanguage(name string) *AppError {
	return &AppError{
		Err:     ErrUnknownLanguage,
		Message: fmt.Sprintf("Unsupported language: %s", name),
		Field:   "language",
	}
}

// CompileFailed carries the build tool's diagnostics verbatim. cause is the
// process failure (exit status, timeout) and may be nil.
func CompileFailed(diagnostics string, cause error) *AppError {
	return &AppError{
		Err:     ErrCompile,
		Message: diagnostics,
		Cause:   cause,
	}
}

// EngineFault marks a failure of the service itself, e.g. scratch storage
// being unavailable or the compiler binary missing.
func EngineFault(message string, cause error) *AppError {
	msg := message
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", message, cause)
	}
	return &AppError{
		Err:     ErrEngineFault,
		Message: msg,
		Cause:   cause,
	}
}
