package models

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusStale     SessionStatus = "stale"
)

// Terminal reports whether the status is one a session never leaves on its
// own. Explicit resume is the only way back to active.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStale:
		return true
	}
	return false
}

// StopReason records why the most recent model call or loop run ended.
type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopToolUse       StopReason = "tool_use"
	StopMaxTokens     StopReason = "max_tokens"
	StopMaxTurns      StopReason = "max_turns"
	StopContentFilter StopReason = "content_filter"
	StopError         StopReason = "error"
	StopBudget        StopReason = "budget_exceeded"
	StopCancelled     StopReason = "cancelled"
)

// Session is a unit of agent execution: one ongoing conversation with
// persistent state. Mutated only by its owning loop and by the runtime
// supervisor (status transitions).
type Session struct {
	ID              string        `json:"id"`
	AgentID         string        `json:"agent_id"`
	OrgID           string        `json:"org_id"`
	ParentID        string        `json:"parent_id,omitempty"`
	Status          SessionStatus `json:"status"`
	TurnCount       int           `json:"turn_count"`
	TokenCount      int           `json:"token_count"`
	LastStopReason  StopReason    `json:"last_stop_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	LastHeartbeatAt time.Time     `json:"last_heartbeat_at"`

	// Messages is populated by Store.GetSession; list operations leave it nil.
	Messages []*Message `json:"messages,omitempty"`
}

// Clone returns a deep copy of the session including messages.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = CloneMessages(s.Messages)
	return &clone
}
