// Package obs holds Prometheus metrics for token verification and HTTP traffic.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector on a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	reg *prometheus.Registry

	verifications *prometheus.CounterVec
	issued        *prometheus.CounterVec
	revocations   *prometheus.CounterVec
	serviceAuth   *prometheus.CounterVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors plus Go/process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_token_verifications_total",
			Help: "Token verifications by class and outcome.",
		}, []string{"class", "result"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_tokens_issued_total",
			Help: "Issued tokens by class.",
		}, []string{"class"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_revocations_total",
			Help: "Revocations by kind.",
		}, []string{"kind"}),
		serviceAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_service_auth_total",
			Help: "Service API key authentications by outcome.",
		}, []string{"result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.verifications, m.issued, m.revocations, m.serviceAuth,
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Verification counts one verification attempt; result is "ok" or a failure reason.
func (m *Metrics) Verification(class, result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(class, result).Inc()
}

// Issued counts a minted token.
func (m *Metrics) Issued(class string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(class).Inc()
}

// Revocation counts a revocation of the given kind.
func (m *Metrics) Revocation(kind string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(kind).Inc()
}

// ServiceAuth counts a service authentication outcome.
func (m *Metrics) ServiceAuth(result string) {
	if m == nil {
		return
	}
	m.serviceAuth.WithLabelValues(result).Inc()
}

// Instrument records latency, status and in-flight count per matched gin route.
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
	}
}
