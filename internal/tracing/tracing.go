// Package tracing builds the OpenTelemetry tracer used by the engines.
// The provider is injected, never registered as the global one.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sakif/code-runner/internal/config"
)

// Setup holds the tracer provider and a named tracer.
type Setup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New creates a provider exporting over OTLP/HTTP. It returns nil when no
// endpoint is configured; a nil *Setup hands out a noop tracer.
func New(cfg config.TracingConfig) (*Setup, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	ctx := context.Background()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "code-runner"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var opts []otlptracehttp.Option
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &Setup{
		provider: tp,
		tracer:   tp.Tracer(serviceName),
	}, nil
}

// Tracer returns the named tracer, or a noop tracer when tracing is off.
func (s *Setup) Tracer() trace.Tracer {
	if s == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return s.tracer
}

// Provider returns the tracer provider, or a noop one when tracing is off.
func (s *Setup) Provider() trace.TracerProvider {
	if s == nil {
		return noop.NewTracerProvider()
	}
	return s.provider
}

// Shutdown flushes pending spans.
func (s *Setup) Shutdown(ctx context.Context) error {
	if s == nil || s.provider == nil {
		return nil
	}
	return s.provider.Shutdown(ctx)
}
