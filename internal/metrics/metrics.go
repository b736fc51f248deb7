// Package metrics exposes Prometheus instrumentation for the chat pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared across the service. Construct once in
// main and inject; registration happens against the supplied registerer so
// tests can use a private registry.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       *prometheus.HistogramVec
	ToolCallsTotal     *prometheus.CounterVec
	ToolCallDuration   *prometheus.HistogramVec
	RateLimitRejects   *prometheus.CounterVec
	CircuitState       *prometheus.GaugeVec
	HistoryTruncated   prometheus.Counter
	VersionConflicts   prometheus.Counter
	StaleConversations prometheus.Gauge
}

// New creates and registers all collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_turns_total",
				Help: "Chat turns processed, by final outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpilot_turn_duration_seconds",
				Help:    "End-to-end chat turn duration",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 7.5, 10},
			},
			[]string{"outcome"},
		),
		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_tool_calls_total",
				Help: "Tool invocations, by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpilot_tool_call_duration_seconds",
				Help:    "Individual tool call duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		RateLimitRejects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_rate_limit_rejections_total",
				Help: "Calls rejected before invocation by the rate limiter",
			},
			[]string{"tool"},
		),
		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpilot_circuit_state",
				Help: "Circuit breaker state per tool (0 closed, 1 half-open, 2 open)",
			},
			[]string{"tool"},
		),
		HistoryTruncated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskpilot_history_truncations_total",
				Help: "Turns whose history exceeded the token budget",
			},
		),
		VersionConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskpilot_version_conflicts_total",
				Help: "Optimistic concurrency conflicts during turn persistence",
			},
		),
		StaleConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskpilot_stale_conversations",
				Help: "Conversations idle past the stale threshold",
			},
		),
	}
}

// ObserveTurn records one completed turn.
func (m *Metrics) ObserveTurn(outcome string, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string, duration time.Duration) {
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
