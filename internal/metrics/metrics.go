// Package metrics exposes AgriAgent's Prometheus collectors. All
// methods are safe to call on a nil *Metrics so components can be built
// without metrics in tests and when metrics are disabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agriagent"

// Metrics holds the registry and every collector the service updates.
type Metrics struct {
	registry *prometheus.Registry

	agentRequests   *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	farmCards       prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		agentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Orchestrator requests by outcome (ok, fallback).",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name and data source (live, local, fallback).",
		}, []string{"tool", "source"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_duration_seconds",
			Help:      "Reasoning gateway call latency, including tool rounds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"purpose", "outcome"}),
		farmCards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "farm_cards_total",
			Help:      "Farm cards generated.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by method, route, and status code.",
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.agentRequests,
		m.toolCalls,
		m.gatewayDuration,
		m.farmCards,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// AgentRequest counts one orchestrator request.
func (m *Metrics) AgentRequest(outcome string) {
	if m == nil {
		return
	}
	m.agentRequests.WithLabelValues(outcome).Inc()
}

// ToolCall counts one tool invocation.
func (m *Metrics) ToolCall(tool, source string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, source).Inc()
}

// ObserveGateway records one gateway call.
func (m *Metrics) ObserveGateway(purpose, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(purpose, outcome).Observe(d.Seconds())
}

// FarmCard counts one generated farm card.
func (m *Metrics) FarmCard() {
	if m == nil {
		return
	}
	m.farmCards.Inc()
}

// HTTPRequest counts one served API request.
func (m *Metrics) HTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
