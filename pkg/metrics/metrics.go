// Package metrics holds the Prometheus collectors for the bot.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional metrics dependency without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoreply"

// Metrics contains all bot-level collectors and the registry serving them.
type Metrics struct {
	registry *prometheus.Registry

	stateTransitions *prometheus.CounterVec
	connectionState  *prometheus.GaugeVec
	messagesReceived *prometheus.CounterVec
	ruleMatches      *prometheus.CounterVec
	sendsTotal       *prometheus.CounterVec
	sendDuration     *prometheus.HistogramVec
	rulesActive      prometheus.Gauge
}

// New creates a registry with Go/process collectors and all bot metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Connection state transitions",
		}, []string{"from", "to"}),

		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Inbound messages by evaluation outcome",
		}, []string{"outcome"}),

		ruleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "matches_total",
			Help:      "Rule matches by rule kind",
		}, []string{"kind"}),

		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "sends_total",
			Help:      "Outgoing sends by purpose and result",
		}, []string{"purpose", "result"}),

		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Time spent in the transport send call",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"purpose"}),

		rulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "active",
			Help:      "Number of rules in the active rule set",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.stateTransitions,
		m.connectionState,
		m.messagesReceived,
		m.ruleMatches,
		m.sendsTotal,
		m.sendDuration,
		m.rulesActive,
	)

	return m
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransition records a state change and moves the state gauge.
func (m *Metrics) ObserveTransition(from string, to string) {
	if m == nil {
		return
	}

	m.stateTransitions.WithLabelValues(from, to).Inc()
	m.connectionState.WithLabelValues(from).Set(0)
	m.connectionState.WithLabelValues(to).Set(1)
}

// ObserveMessage counts one inbound message by outcome.
func (m *Metrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}

	m.messagesReceived.WithLabelValues(outcome).Inc()
}

// ObserveMatch counts a rule match.
func (m *Metrics) ObserveMatch(lead bool) {
	if m == nil {
		return
	}

	kind := "reply"
	if lead {
		kind = "lead"
	}
	m.ruleMatches.WithLabelValues(kind).Inc()
}

// ObserveSend records one finished send.
func (m *Metrics) ObserveSend(purpose string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sendsTotal.WithLabelValues(purpose, result).Inc()
	m.sendDuration.WithLabelValues(purpose).Observe(elapsed.Seconds())
}

// SetRulesActive updates the active rule gauge.
func (m *Metrics) SetRulesActive(count int) {
	if m == nil {
		return
	}

	m.rulesActive.Set(float64(count))
}
