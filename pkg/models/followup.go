package models

import "time"

// FollowUpStatus is the lifecycle state of a scheduled follow-up.
type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpFired     FollowUpStatus = "fired"
	FollowUpCancelled FollowUpStatus = "cancelled"
)

// FollowUp is a message scheduled for future delivery into a session.
// A follow-up fires at most once per scheduling; recurring follow-ups carry
// a cron expression and are rescheduled after each fire.
type FollowUp struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message"`
	ExecuteAt time.Time      `json:"execute_at"`
	Cron      string         `json:"cron,omitempty"`
	Status    FollowUpStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	FiredAt   *time.Time     `json:"fired_at,omitempty"`
}
