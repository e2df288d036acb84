package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/executor"
)

// Runner is the part of service.RunService the handler needs.
type Runner interface {
	Run(ctx context.Context, language string, req executor.ExecutionRequest) (*executor.ExecutionResult, error)
	Languages() []string
}

// RunHandler serves the execution endpoints.
type RunHandler struct {
	runner          Runner
	defaultLanguage string
	logger          *slog.Logger
}

// NewRunHandler creates a RunHandler. POST /run uses defaultLanguage.
func NewRunHandler(runner Runner, defaultLanguage string, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runner:          runner,
		defaultLanguage: defaultLanguage,
		logger:          logger,
	}
}

// runRequest is the wire form of executor.ExecutionRequest. Timeout is kept
// raw so that a non-numeric value falls back to the default instead of
// failing the whole request.
type runRequest struct {
	Code    string            `json:"code"`
	Timeout json.RawMessage   `json:"timeout"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// HandleRun handles POST /run and POST /{language}/run.
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	language := chi.URLParam(r, "language")
	if language == "" {
		language = h.defaultLanguage
	}

	// An empty body decodes to an empty request and fails validation below.
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("invalid run request body",
			slog.String("error", err.Error()),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
		writeError(w, apperror.InvalidRequest("body", "Invalid request: "+err.Error()))
		return
	}

	req := executor.ExecutionRequest{
		Code:    body.Code,
		Timeout: parseTimeout(body.Timeout),
		Args:    body.Args,
		Env:     body.Env,
	}

	result, err := h.runner.Run(r.Context(), language, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// LanguagesResponse is the body of GET /languages.
type LanguagesResponse struct {
	Default   string   `json:"default"`
	Languages []string `json:"languages"`
}

// HandleLanguages lists the languages this server can run.
func (h *RunHandler) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LanguagesResponse{
		Default:   h.defaultLanguage,
		Languages: h.runner.Languages(),
	})
}

// parseTimeout accepts a JSON number or a numeric string; anything else
// means "no timeout requested".
func parseTimeout(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	return nil
}

// HandleHealth answers liveness checks. It never touches the engines.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
