package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the registry served on /metrics together with the inbound
// trigger API and outbound Unit4 API collectors.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	upstreamTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

// NewMetrics initialises the registry, the runtime collectors and the HTTP
// collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "u4bridge_http_requests_total",
			Help: "Trigger API requests partitioned by method, route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "u4bridge_http_request_duration_seconds",
			Help:    "Trigger API request duration per route. Synchronous runs dominate the tail.",
			Buckets: []float64{0.05, 0.25, 1, 5, 30, 120, 600},
		}, []string{"route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "u4bridge_http_requests_in_flight",
			Help: "Trigger API requests currently being served.",
		}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "u4bridge_unit4_requests_total",
			Help: "Requests sent to the Unit4 token and batch endpoints by method and status code.",
		}, []string{"method", "code"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "u4bridge_unit4_request_duration_seconds",
			Help:    "Latency of requests sent to Unit4.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration, m.inFlight,
		m.upstreamTotal, m.upstreamDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// InstrumentTransport wraps the transport used for Unit4 calls. A nil next
// means http.DefaultTransport.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if m == nil {
		return next
	}
	return promhttp.InstrumentRoundTripperCounter(m.upstreamTotal,
		promhttp.InstrumentRoundTripperDuration(m.upstreamDuration, next))
}

// Registerer exposes the registry so job metrics share the same endpoint.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
