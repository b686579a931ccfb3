package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics for sessions, model calls, tool
// executions, follow-ups, and store operations.
//
// Everything is registered on a dedicated registry so that multiple
// runtimes (or tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// ActiveSessions tracks currently active sessions per agent.
	ActiveSessions *prometheus.GaugeVec

	// TurnCounter counts completed loop turns by agent and stop reason.
	TurnCounter *prometheus.CounterVec

	// ModelCallDuration measures model API call latency in seconds.
	// Labels: provider, model
	ModelCallDuration *prometheus.HistogramVec

	// ModelCallCounter counts model calls by provider, model, and status.
	ModelCallCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by tool and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// CompactionCounter counts context compactions per agent.
	CompactionCounter *prometheus.CounterVec

	// FollowUpCounter counts follow-up outcomes (fired|cancelled|missed).
	FollowUpCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and kind.
	ErrorCounter *prometheus.CounterVec

	// StoreOpDuration measures persistence operation latency in seconds.
	// Labels: op (create_session|replace_messages|...)
	StoreOpDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all runtime metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agenticmail_active_sessions",
				Help: "Current number of active sessions by agent",
			},
			[]string{"agent_id"},
		),

		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenticmail_turns_total",
				Help: "Total number of completed loop turns by agent and stop reason",
			},
			[]string{"agent_id", "stop_reason"},
		),

		ModelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agenticmail_model_call_duration_seconds",
				Help:    "Duration of model API calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenticmail_model_calls_total",
				Help: "Total number of model calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenticmail_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenticmail_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agenticmail_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		CompactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenticmail_compactions_total",
				Help: "Total context compactions by agent",
			},
			[]string{"agent_id"},
		),

		FollowUpCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenticmail_followups_total",
				Help: "Total follow-up outcomes",
			},
			[]string{"outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenticmail_errors_total",
				Help: "Total errors by component and kind",
			},
			[]string{"component", "kind"},
		),

		StoreOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agenticmail_store_op_duration_seconds",
				Help:    "Duration of persistence operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op"},
		),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted(agentID string) {
	m.ActiveSessions.WithLabelValues(agentID).Inc()
}

// SessionEnded decrements the active sessions gauge.
func (m *Metrics) SessionEnded(agentID string) {
	m.ActiveSessions.WithLabelValues(agentID).Dec()
}

// RecordTurn counts a completed loop turn.
func (m *Metrics) RecordTurn(agentID, stopReason string) {
	m.TurnCounter.WithLabelValues(agentID, stopReason).Inc()
}

// RecordModelCall records a model call with latency and token usage.
func (m *Metrics) RecordModelCall(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.ModelCallCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelCallDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records a tool execution outcome and latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCompaction counts a context compaction.
func (m *Metrics) RecordCompaction(agentID string) {
	m.CompactionCounter.WithLabelValues(agentID).Inc()
}

// RecordFollowUp counts a follow-up outcome.
func (m *Metrics) RecordFollowUp(outcome string) {
	m.FollowUpCounter.WithLabelValues(outcome).Inc()
}

// RecordError counts an error by component and kind.
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
}

// RecordStoreOp records a persistence operation latency.
func (m *Metrics) RecordStoreOp(op string, durationSeconds float64) {
	m.StoreOpDuration.WithLabelValues(op).Observe(durationSeconds)
}
