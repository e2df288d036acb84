package handler

// Response helpers keep every body consistent:
//
//	writeJSON(w, http.StatusOK, result)
//	writeError(w, err)
//
// Client errors use the small {"error": "..."} shape. A failure of the
// service itself uses the full result shape, so callers that only read
// stdout/stderr/exitCode still see something sensible.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/executor"
)

// ErrorResponse is the body of 4xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON sends data as JSON. Headers and status must be written before
// the body. The body carries no trailing newline.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

// writeError maps an error from the service layer to HTTP.
//
//	ErrInvalidRequest  → 400 {"error": message}
//	ErrUnknownLanguage → 404 {"error": message}
//	anything else      → 500 with the result shape
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(err, apperror.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: appErr.Message})
			return
		case errors.Is(err, apperror.ErrUnknownLanguage):
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: appErr.Message})
			return
		}
	}

	writeJSON(w, http.StatusInternalServerError, executor.EngineFailure(err))
}
