package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/metrics"
)

// recordingRunner echoes the language it was asked for.
type recordingRunner struct {
	mu        sync.Mutex
	languages []string
}

func (r *recordingRunner) Run(ctx context.Context, language string, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if err := executor.Validate(req); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.languages = append(r.languages, language)
	r.mu.Unlock()

	if language == "cobol" {
		return nil, apperror.UnknownLanguage(language)
	}
	return executor.Completed(language+"\n", "", time.Millisecond), nil
}

func (r *recordingRunner) Languages() []string {
	return []string{"javascript", "typescript"}
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, Language: config.LanguageJavaScript, MaxRequestSize: 1024},
		Compiler: config.CompilerConfig{Timeout: 30 * time.Second},
		Sweeper:  config.SweeperConfig{Schedule: "@every 1h"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Runner == nil {
		deps.Runner = &recordingRunner{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	s, err := New(testConfig(), deps, discardLogger())
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRoutes(t *testing.T) {
	runner := &recordingRunner{}
	s := newTestServer(t, Deps{Runner: runner})

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK, "OK"},
		{"default language", http.MethodPost, "/run", `{"code":"x"}`, http.StatusOK, `"stdout":"javascript\n"`},
		{"named language", http.MethodPost, "/typescript/run", `{"code":"x"}`, http.StatusOK, `"stdout":"typescript\n"`},
		{"unknown language", http.MethodPost, "/cobol/run", `{"code":"x"}`, http.StatusNotFound, `Unsupported language: cobol`},
		{"code required", http.MethodPost, "/run", `{}`, http.StatusBadRequest, `{"error":"Code is required"}`},
		{"languages", http.MethodGet, "/languages", "", http.StatusOK, `"default":"javascript"`},
		{"run is POST only", http.MethodGet, "/run", "", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(s, tt.method, tt.path, tt.body, nil)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantBody)
		})
	}
}

func TestRequestSizeLimit(t *testing.T) {
	s := newTestServer(t, Deps{})
	body := `{"code":"` + strings.Repeat("x", 2048) + `"}`

	rr := do(s, http.MethodPost, "/run", body, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid request:")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Deps{})
	do(s, http.MethodPost, "/javascript/run", `{"code":"x"}`, nil)

	rr := do(s, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `coderunner_http_requests_total{method="POST",route="/{language}/run",status="200"} 1`)
}

func TestAuthGuardsRunRoutesOnly(t *testing.T) {
	tokens, err := auth.NewTokenService("server-test-secret-0123456789")
	require.NoError(t, err)
	token, err := tokens.Generate("ci")
	require.NoError(t, err)

	s := newTestServer(t, Deps{Tokens: tokens})
	bearer := http.Header{"Authorization": {"Bearer " + token}}

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/run", `{"code":"x"}`, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/python/run", `{"code":"x"}`, nil).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/run", `{"code":"x"}`, bearer).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/languages", "", nil).Code)
}

func TestTracing_SpanNamedAfterRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	s := newTestServer(t, Deps{TracerProvider: tp})

	for _, path := range []string{"/js/run", "/ts/run", "/python/run"} {
		rr := do(s, http.MethodPost, path, `{"code":"1"}`, nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	for _, span := range spans {
		assert.Equal(t, "POST /{language}/run", span.Name())
	}
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(testConfig(), Deps{}, discardLogger())

	assert.Error(t, err)
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Sweeper.Schedule = "every now and then"
	jobs := []Job{{Name: "noop", Run: func(context.Context) (int64, error) { return 0, nil }}}

	_, err := New(cfg, Deps{Runner: &recordingRunner{}, Jobs: jobs}, discardLogger())

	assert.ErrorContains(t, err, "invalid sweeper schedule")
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, Deps{})

	var order []string
	s.OnShutdown(func(context.Context) error { order = append(order, "cache"); return nil })
	s.OnShutdown(func(context.Context) error { order = append(order, "engines"); return nil })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, []string{"engines", "cache"}, order)
}

func TestServe_ShutdownHookErrorsAreReturned(t *testing.T) {
	s := newTestServer(t, Deps{})
	boom := errors.New("close failed")
	s.OnShutdown(func(context.Context) error { return boom })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Serve(ctx, ln), boom)
}

func TestSweeper_RunOnceContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var ran []string
	jobs := []Job{
		{Name: "broken", Run: func(context.Context) (int64, error) {
			ran = append(ran, "broken")
			return 0, errors.New("disk on fire")
		}},
		{Name: "scratch", Run: func(context.Context) (int64, error) {
			ran = append(ran, "scratch")
			return 3, nil
		}},
	}

	sw, err := NewSweeper("@every 1h", jobs, logger)
	require.NoError(t, err)
	sw.RunOnce(context.Background())

	assert.Equal(t, []string{"broken", "scratch"}, ran)
	assert.Contains(t, buf.String(), "disk on fire")
	assert.Contains(t, buf.String(), "removed=3")
}

func TestSweeper_StartStop(t *testing.T) {
	sw, err := NewSweeper("@every 1h", nil, discardLogger())
	require.NoError(t, err)

	sw.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sw.Stop(ctx)

	assert.NoError(t, ctx.Err())
}
