// Package metrics exposes Prometheus counters for routing, tool use, turns
// and paper trades. All methods are safe on a nil *Metrics so callers never
// need to check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finmate"

// Metrics owns a private registry so tests and multiple apps do not collide
type Metrics struct {
	registry *prometheus.Registry

	routes       *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	turns        *prometheus.CounterVec
	orders       *prometheus.CounterVec
	syntheses    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
}

// New registers all collectors, plus the Go runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by chosen agent and decision source.",
		}, []string{"agent", "source"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed conversation turns by agent and outcome.",
		}, []string{"agent", "status"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_orders_total",
			Help:      "Paper-trading orders by action and outcome.",
		}, []string{"action", "status"}),
		syntheses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_syntheses_total",
			Help:      "Conversation summary syntheses by outcome.",
		}, []string{"status"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end latency of a conversation turn.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"agent"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by agent and direction.",
		}, []string{"agent", "type"}),
	}
	m.registry.MustRegister(
		m.routes, m.toolCalls, m.turns, m.orders, m.syntheses, m.turnDuration, m.tokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordRoute counts a routing decision
func (m *Metrics) RecordRoute(agent, source string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(agent, source).Inc()
}

// RecordToolCall counts one tool execution; status is "ok" or "error"
func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordTurn counts a finished turn and observes its latency
func (m *Metrics) RecordTurn(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(agent, status).Inc()
	m.turnDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordOrder counts a paper-trading order
func (m *Metrics) RecordOrder(action, status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(action, status).Inc()
}

// RecordSynthesis counts a memory synthesis attempt
func (m *Metrics) RecordSynthesis(status string) {
	if m == nil {
		return
	}
	m.syntheses.WithLabelValues(status).Inc()
}

// RecordTokens adds LLM token usage
func (m *Metrics) RecordTokens(agent string, input, output int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(agent, "input").Add(float64(input))
	m.tokens.WithLabelValues(agent, "output").Add(float64(output))
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
