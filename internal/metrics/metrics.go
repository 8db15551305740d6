package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the process.
type Metrics struct {
	registry *prometheus.Registry

	// Message pipeline
	MessagesTotal   *prometheus.CounterVec
	ProcessDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter

	// Runtime
	RuntimeCostUSD   prometheus.Counter
	RuntimeToolCalls *prometheus.CounterVec

	// Approvals
	ApprovalsTotal   *prometheus.CounterVec
	ApprovalsPending prometheus.Gauge

	// Sessions
	SessionsCreated prometheus.Counter

	// Voice
	VoiceCallsTotal *prometheus.CounterVec
}

// New creates and registers all instruments on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koro_messages_total",
				Help: "Inbound messages by content kind and outcome",
			},
			[]string{"kind", "status"},
		),
		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "koro_process_duration_seconds",
				Help:    "End-to-end message processing duration",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "koro_rate_limited_total",
				Help: "Messages rejected by the rate limiter",
			},
		),
		RuntimeCostUSD: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "koro_runtime_cost_usd_total",
				Help: "Estimated cumulative runtime spend",
			},
		),
		RuntimeToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koro_runtime_tool_calls_total",
				Help: "Tool calls observed during runs",
			},
			[]string{"tool", "outcome"},
		),
		ApprovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koro_approvals_total",
				Help: "Approval resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ApprovalsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "koro_approvals_pending",
				Help: "Approval records currently tracked",
			},
		),
		SessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "koro_sessions_created_total",
				Help: "Sessions created",
			},
		),
		VoiceCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koro_voice_calls_total",
				Help: "Speech provider calls by direction and outcome",
			},
			[]string{"direction", "status"},
		),
	}

	registry.MustRegister(
		m.MessagesTotal,
		m.ProcessDuration,
		m.RateLimited,
		m.RuntimeCostUSD,
		m.RuntimeToolCalls,
		m.ApprovalsTotal,
		m.ApprovalsPending,
		m.SessionsCreated,
		m.VoiceCallsTotal,
	)
	return m
}

// ObserveMessage records one processed message.
func (m *Metrics) ObserveMessage(kind, status string, duration time.Duration) {
	m.MessagesTotal.WithLabelValues(kind, status).Inc()
	m.ProcessDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
