package models

import "time"

// SessionEvent is the unified event model for the per-session stream.
// Delivery to subscribers is best-effort; the store remains authoritative.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering within a session
type SessionEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type SessionEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a session.
	Sequence uint64 `json:"seq"`

	// SessionID identifies the session this event belongs to.
	SessionID string `json:"session_id"`

	// Turn is the turn number the event occurred in, where applicable.
	Turn int `json:"turn,omitempty"`

	// At most one payload is non-nil for a given Type.
	Delta  *DeltaPayload  `json:"delta,omitempty"`
	Tool   *ToolPayload   `json:"tool,omitempty"`
	Budget *BudgetPayload `json:"budget,omitempty"`
	Error  *ErrorPayload  `json:"error,omitempty"`
}

// SessionEventType identifies the kind of session event.
type SessionEventType string

const (
	// Session lifecycle
	EventSessionStart   SessionEventType = "session_start"
	EventSessionResumed SessionEventType = "session_resumed"
	EventSessionEnd     SessionEventType = "session_end"

	// Turn lifecycle
	EventTurnStart  SessionEventType = "turn_start"
	EventTurnEnd    SessionEventType = "turn_end"
	EventCheckpoint SessionEventType = "checkpoint"

	// Model streaming
	EventTextDelta     SessionEventType = "text_delta"
	EventThinkingDelta SessionEventType = "thinking_delta"

	// Tool execution
	EventToolCallStart SessionEventType = "tool_call_start"
	EventToolCallEnd   SessionEventType = "tool_call_end"

	// Liveness and budget
	EventHeartbeat      SessionEventType = "heartbeat"
	EventBudgetWarning  SessionEventType = "budget_warning"
	EventBudgetExceeded SessionEventType = "budget_exceeded"

	// Failures
	EventError SessionEventType = "error"
)

// DeltaPayload carries incremental model output.
type DeltaPayload struct {
	Text string `json:"text"`
}

// ToolPayload describes a tool call start or end.
type ToolPayload struct {
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Success    bool   `json:"success,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// BudgetPayload carries budget check outcomes.
type BudgetPayload struct {
	Reason       string  `json:"reason,omitempty"`
	RemainingUSD float64 `json:"remaining_usd,omitempty"`
}

// ErrorPayload carries a failure surfaced on the stream.
type ErrorPayload struct {
	Message   string `json:"message"`
	Retriable bool   `json:"retriable,omitempty"`
}
