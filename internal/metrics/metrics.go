// Package metrics holds the Prometheus collectors of the code runner.
// Collectors live on a private registry; nothing is registered globally.
//
// Every method is safe to call on a nil *Metrics, so components can be
// built without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coderunner"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	CompileDuration   *prometheus.HistogramVec
	ActiveExecutions  *prometheus.GaugeVec

	CacheLookupsTotal *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics with all collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total executions by language and outcome.",
		}, []string{"language", "outcome"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Execution phase duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
		}, []string{"language"}),

		CompileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Build step duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"language", "status"}),

		ActiveExecutions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Executions currently in flight.",
		}, []string{"language"}),

		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result (hit, miss, error).",
		}, []string{"result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.CompileDuration,
		m.ActiveExecutions,
		m.CacheLookupsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ExecutionStarted marks one execution in flight and returns the func that
// marks it done.
func (m *Metrics) ExecutionStarted(language string) func() {
	if m == nil {
		return func() {}
	}
	g := m.ActiveExecutions.WithLabelValues(language)
	g.Inc()
	return g.Dec
}

// RecordExecution counts a finished execution.
func (m *Metrics) RecordExecution(language, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(language, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(d.Seconds())
}

// RecordCompile observes one build step; status is "ok", "failed" or "error".
func (m *Metrics) RecordCompile(language, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CompileDuration.WithLabelValues(language, status).Observe(d.Seconds())
}

// RecordCacheLookup counts a result cache lookup.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObservePool exports idle as the number of warm containers of one
// container pool.
func (m *Metrics) ObservePool(toolchain string, idle func() int) error {
	if m == nil {
		return nil
	}
	return m.Registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "pool_idle_containers",
		Help:        "Warm containers waiting for a request.",
		ConstLabels: prometheus.Labels{"toolchain": toolchain},
	}, func() float64 { return float64(idle()) }))
}

// RecordHTTPRequest observes one served request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
