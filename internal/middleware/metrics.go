package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/code-runner/internal/metrics"
)

// Metrics records request counts and latencies. Requests are labelled by
// the matched chi route pattern, not the raw path, so /{language}/run stays
// one series however many languages are called.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrap(w, r)

			next.ServeHTTP(ww, r)

			m.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(status(ww)), time.Since(start))
		})
	}
}

// routePattern returns the matched chi route, or "unmatched". It is complete
// only once the router has served r.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
