package middleware

import (
	"net/http"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// RouteSpan renames the request's server span after the matched route, so
// /{language}/run is one span name however many languages are called.
func RouteSpan(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(semconv.HTTPRouteKey.String(route))
	})
}
