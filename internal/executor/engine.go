package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/executor/sandbox"
	"github.com/sakif/code-runner/internal/metrics"
)

// Preprocessor turns source text into the executable form, e.g. by running
// a transpiler. Diagnostics are reported as an apperror with ErrCompile;
// any other error is a failure of the service.
type Preprocessor interface {
	Prepare(ctx context.Context, source string) (string, error)
}

// Runner runs an executable form in an isolated context.
type Runner interface {
	Run(ctx context.Context, program string, caps sandbox.Capabilities, timeout time.Duration) (sandbox.Report, error)
}

// EngineConfig describes one language backend.
type EngineConfig struct {
	Language       string
	Limits         TimeoutPolicy
	MaxOutputBytes int
	// Preprocessor is nil for languages that run their source directly.
	Preprocessor Preprocessor
}

// Engine wires the request validator, the optional pre-processor, the
// isolated runner and the result assembler for a single language.
type Engine struct {
	cfg     EngineConfig
	runner  Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewEngine creates an Engine. m and tracer may be nil.
func NewEngine(cfg EngineConfig, runner Runner, logger *slog.Logger, m *metrics.Metrics, tracer trace.Tracer) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Engine{
		cfg:     cfg,
		runner:  runner,
		logger:  logger,
		metrics: m,
		tracer:  tracer,
	}
}

// Language returns the canonical language name this engine serves.
func (e *Engine) Language() string {
	return e.cfg.Language
}

// Close releases the runner when it holds resources, such as a container pool.
func (e *Engine) Close() error {
	if c, ok := e.runner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Execute runs req to one of its terminal outcomes.
func (e *Engine) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(attribute.String("language", e.cfg.Language)))
	defer span.End()

	finished := e.metrics.ExecutionStarted(e.cfg.Language)
	defer finished()

	start := time.Now()
	timeout := ResolveTimeout(req.Timeout, e.cfg.Limits)
	span.SetAttributes(attribute.Int64("timeout_ms", timeout.Milliseconds()))

	program := req.Code
	if e.cfg.Preprocessor != nil {
		prepared, failed, err := e.compile(ctx, req.Code)
		if err != nil {
			return nil, e.fail(ctx, span, err)
		}
		if failed != nil {
			e.finish(ctx, span, failed, time.Since(start))
			return failed, nil
		}
		program = prepared
	}

	res, err := e.run(ctx, program, req, timeout)
	if err != nil {
		return nil, e.fail(ctx, span, err)
	}
	e.finish(ctx, span, res, time.Since(start))
	return res, nil
}

// compile returns either the executable form or, for a compile error, the
// finished result. Any other failure is returned as an engine fault.
func (e *Engine) compile(ctx context.Context, source string) (string, *ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.compile")
	defer span.End()

	start := time.Now()
	program, err := e.cfg.Preprocessor.Prepare(ctx, source)
	elapsed := time.Since(start)

	if err == nil {
		e.metrics.RecordCompile(e.cfg.Language, "ok", elapsed)
		return program, nil, nil
	}

	if failed := compileFailure(err, elapsed); failed != nil {
		e.metrics.RecordCompile(e.cfg.Language, "failed", elapsed)
		span.SetStatus(codes.Error, "compile failed")
		return "", failed, nil
	}

	e.metrics.RecordCompile(e.cfg.Language, "error", elapsed)
	span.RecordError(err)
	if errors.Is(err, apperror.ErrEngineFault) {
		return "", nil, err
	}
	return "", nil, apperror.EngineFault("pre-processing failed", err)
}

func (e *Engine) run(ctx context.Context, program string, req ExecutionRequest, timeout time.Duration) (*ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.execute")
	defer span.End()

	caps := sandbox.Capabilities{
		Args:           req.Args,
		Env:            req.Env,
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	}

	start := time.Now()
	report, err := e.runner.Run(ctx, program, caps, timeout)
	if err != nil {
		// Runners that build inside their sandbox report diagnostics here.
		elapsed := time.Since(start)
		if failed := compileFailure(err, elapsed); failed != nil {
			e.metrics.RecordCompile(e.cfg.Language, "failed", elapsed)
			span.SetStatus(codes.Error, "compile failed")
			return failed, nil
		}
		span.RecordError(err)
		return nil, apperror.EngineFault("failed to create sandbox", err)
	}
	span.SetAttributes(attribute.String("state", report.State.String()))
	return Assemble(report, timeout), nil
}

// compileFailure converts a compile error into its result, or returns nil
// for any other error.
func compileFailure(err error, elapsed time.Duration) *ExecutionResult {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || !errors.Is(appErr.Err, apperror.ErrCompile) {
		return nil
	}
	message := "compilation failed"
	if appErr.Cause != nil {
		message = appErr.Cause.Error()
	}
	return CompileFailed(appErr.Message, message, elapsed)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, res *ExecutionResult, elapsed time.Duration) {
	outcome := res.Outcome.String()
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int64("execution_time_ms", res.ExecutionTime),
	)
	e.metrics.RecordExecution(e.cfg.Language, outcome, elapsed)

	attrs := []any{
		slog.String("language", e.cfg.Language),
		slog.String("outcome", outcome),
		slog.Int64("executionTime", res.ExecutionTime),
	}
	if id := middleware.GetReqID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}

	err := res.Err()
	if err == nil {
		e.logger.Info("execution finished", attrs...)
		return
	}
	span.RecordError(err)
	e.logger.Warn("execution failed", append(attrs, slog.String("error", res.Error))...)
}

func (e *Engine) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("outcome", OutcomeEngineFault.String()))
	e.metrics.RecordExecution(e.cfg.Language, OutcomeEngineFault.String(), 0)

	attrs := []any{
		slog.String("language", e.cfg.Language),
		slog.String("error", err.Error()),
	}
	if id := middleware.GetReqID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	e.logger.Error("engine fault", attrs...)
	return err
}
