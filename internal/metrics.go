package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the server's Prometheus instrumentation. Each server owns
// its registry so parallel test servers never fight over collector names.
type Metrics struct {
	registry *prometheus.Registry

	Signups     prometheus.Counter
	Logins      prometheus.Counter
	ActiveConns prometheus.Gauge
	Messages    *prometheus.CounterVec
	EventsSent  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.Signups = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expenso_signups_total",
		Help: "Total number of account signups",
	})
	m.Logins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "expenso_logins_total",
		Help: "Total number of successful logins",
	})
	m.ActiveConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "expenso_ws_connections_active",
		Help: "Current number of active WebSocket connections",
	})
	m.Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expenso_chat_messages_total",
		Help: "Chat messages processed, labeled by outcome",
	}, []string{"outcome"}) // outcome = "stored", "rejected", "rate_limited"
	m.EventsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "expenso_events_sent_total",
		Help: "Push events fanned out to clients, labeled by event type",
	}, []string{"type"})

	m.registry.MustRegister(m.Signups, m.Logins, m.ActiveConns, m.Messages, m.EventsSent)
	return m
}

// Handler serves this instance's registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
