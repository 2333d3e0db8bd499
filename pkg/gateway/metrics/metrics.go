// Package metrics exposes Prometheus counters for the voice gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/live/session"
	"github.com/vango-go/vai-voice/pkg/gateway/live/transport"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsStarted  *prometheus.CounterVec
	SessionsEnded    *prometheus.CounterVec
	NegotiationFails *prometheus.CounterVec

	AuthFailures           *prometheus.CounterVec
	ConsolidationFallbacks prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_voice"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of running sessions",
		},
	)

	sessionsStarted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions started",
		},
		[]string{"transport"},
	)

	sessionsEnded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions terminated",
		},
		[]string{"transport", "outcome"},
	)

	negotiationFails := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_failures_total",
			Help:      "Session requests that did not produce a session",
		},
		[]string{"transport", "status"},
	)

	authFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected credentials",
		},
		[]string{"reason"},
	)

	consolidationFallbacks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_consolidation_fallbacks_total",
			Help:      "Consolidations that kept the prior memory",
		},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		sessionsActive,
		sessionsStarted,
		sessionsEnded,
		negotiationFails,
		authFailures,
		consolidationFallbacks,
	)

	return &Metrics{
		registry:               registry,
		RequestsTotal:          requestsTotal,
		RequestDuration:        requestDuration,
		SessionsActive:         sessionsActive,
		SessionsStarted:        sessionsStarted,
		SessionsEnded:          sessionsEnded,
		NegotiationFails:       negotiationFails,
		AuthFailures:           authFailures,
		ConsolidationFallbacks: consolidationFallbacks,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, statusLabel(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordNegotiationFailure records a session request rejected with status.
func (m *Metrics) RecordNegotiationFailure(kind transport.Kind, status int) {
	m.NegotiationFails.WithLabelValues(string(kind), statusLabel(status)).Inc()
}

// RecordAuthFailure records a rejected credential.
func (m *Metrics) RecordAuthFailure(reason core.AuthReason) {
	m.AuthFailures.WithLabelValues(string(reason)).Inc()
}

// RecordConsolidationFallback records a consolidation that kept prior memory.
func (m *Metrics) RecordConsolidationFallback() {
	m.ConsolidationFallbacks.Inc()
}

// SessionHooks adapts the metrics to the orchestrator's lifecycle hooks.
func (m *Metrics) SessionHooks() session.Hooks {
	return session.Hooks{
		Started: func(kind transport.Kind) {
			m.SessionsActive.Inc()
			m.SessionsStarted.WithLabelValues(string(kind)).Inc()
		},
		Ended: func(kind transport.Kind, outcome session.Outcome) {
			m.SessionsActive.Dec()
			m.SessionsEnded.WithLabelValues(string(kind), outcome.String()).Inc()
		},
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
