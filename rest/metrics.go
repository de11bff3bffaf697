package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the client-side request metrics on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Discarded       prometheus.Counter
}

// NewMetrics creates the metric vectors under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "Total number of REST requests issued",
		}, []string{"method", "resource", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "request_duration_seconds",
			Help:      "Duration of REST requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "resource"}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "discarded_total",
			Help:      "Requests whose results were ignored after CancelOutstanding",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Discarded)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(method, resource string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, resource, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(method, resource).Observe(d.Seconds())
}

func (m *Metrics) discarded() {
	if m == nil {
		return
	}
	m.Discarded.Inc()
}
