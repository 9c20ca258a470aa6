// Package metrics exposes the prometheus collectors of the API server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apiforge"

// Collector holds every metric of one server. Each Collector owns its
// registry so tests and multiple servers never collide.
type Collector struct {
	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	rateLimited       *prometheus.CounterVec
	validationFailure *prometheus.CounterVec
	fieldErrors       *prometheus.CounterVec
	endpoints         prometheus.Gauge
	registry          *prometheus.Registry
}

// NewCollector creates and registers all metrics
func NewCollector() *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests denied by the rate limiter",
			},
			[]string{"endpoint"},
		),
		validationFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Requests rejected by schema validation",
			},
			[]string{"endpoint"},
		),
		fieldErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_field_errors_total",
				Help:      "Field errors reported by schema validation",
			},
			[]string{"endpoint"},
		),
		endpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_endpoints",
			Help:      "Number of endpoints in the registry",
		}),
		registry: prometheus.NewRegistry(),
	}

	c.registry.MustRegister(
		c.requests,
		c.latency,
		c.rateLimited,
		c.validationFailure,
		c.fieldErrors,
		c.endpoints,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveRequest records one served request
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

// RateLimited implements pipeline.Observer
func (c *Collector) RateLimited(endpoint string) {
	c.rateLimited.WithLabelValues(endpoint).Inc()
}

// ValidationFailed implements pipeline.Observer
func (c *Collector) ValidationFailed(endpoint string, fields int) {
	c.validationFailure.WithLabelValues(endpoint).Inc()
	c.fieldErrors.WithLabelValues(endpoint).Add(float64(fields))
}

// SetEndpoints records the registry size
func (c *Collector) SetEndpoints(n int) {
	c.endpoints.Set(float64(n))
}

// Registry returns the underlying prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
