package models

import (
	"encoding/json"
	"time"
)

// ToolCallRecord is the persisted audit record of one executed tool
// invocation. Written by the hook chain after each tool call.
type ToolCallRecord struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	AgentID    string          `json:"agent_id"`
	Turn       int             `json:"turn"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     string          `json:"result,omitempty"`
	Success    bool            `json:"success"`
	DurationMs int64           `json:"duration_ms"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}
