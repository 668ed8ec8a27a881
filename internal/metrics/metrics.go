// Package metrics holds the server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	TriggersTotal              *prometheus.CounterVec
	DeliveriesTotal            *prometheus.CounterVec
	EndpointsPrunedTotal       prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertme_triggers_total",
				Help: "Trigger calls by result.",
			},
			[]string{"result"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertme_deliveries_total",
				Help: "Per-endpoint alert sends by outcome.",
			},
			[]string{"outcome"},
		),
		EndpointsPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "alertme_endpoints_pruned_total",
				Help: "Delivery endpoints removed after the provider reported them invalid.",
			},
		),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.TriggersTotal,
		m.DeliveriesTotal,
		m.EndpointsPrunedTotal,
	)
	return m
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Trigger counts one trigger call.
func (m *Metrics) Trigger(result string) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(result).Inc()
}

// Delivery counts one endpoint send.
func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(outcome).Inc()
}

// Pruned counts removed endpoints.
func (m *Metrics) Pruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EndpointsPrunedTotal.Add(float64(n))
}

// Request records one served HTTP request.
func (m *Metrics) Request(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDurationSeconds.WithLabelValues(method, path).Observe(seconds)
}
