// Package store defines the persistence contract for the agent runtime
// and provides in-memory and SQLite implementations.
//
// Each operation is individually atomic: it either fully succeeds or
// fails with an error. There are no partial writes of a message list.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agenticmail/agenticmail/pkg/models"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the persistence facade for sessions, messages, tool calls,
// follow-ups, sub-agent links, usage counters, and email bindings.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, agentID, orgID, parentID string) (*models.Session, error)
	// GetSession returns the session with its full message list.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// ListSessions returns metadata only; Messages is nil.
	ListSessions(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error)
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) error
	// ReplaceMessages atomically replaces the whole message list.
	ReplaceMessages(ctx context.Context, id string, messages []*models.Message) error
	AppendMessage(ctx context.Context, id string, msg *models.Message) error
	// TouchSession sets last-heartbeat-at to now and optionally updates
	// counters. It must be cheap.
	TouchSession(ctx context.Context, id string, upd TouchUpdate) error
	// FindActiveSessions returns every session with status active,
	// messages included, for resume on startup.
	FindActiveSessions(ctx context.Context) ([]*models.Session, error)
	// MarkStaleSessions transitions active sessions whose heartbeat is
	// older than timeout to stale and returns the ids changed.
	MarkStaleSessions(ctx context.Context, timeout time.Duration) ([]string, error)

	// Tool call records
	RecordToolCall(ctx context.Context, rec *models.ToolCallRecord) error
	ListToolCalls(ctx context.Context, sessionID string) ([]*models.ToolCallRecord, error)

	// Follow-ups
	CreateFollowUp(ctx context.Context, f *models.FollowUp) error
	GetFollowUp(ctx context.Context, id string) (*models.FollowUp, error)
	// ListPendingFollowUps returns pending follow-ups ordered by ExecuteAt.
	ListPendingFollowUps(ctx context.Context) ([]*models.FollowUp, error)
	// MarkFollowUpFired transitions pending → fired. It fails with
	// ErrNotFound if the follow-up is missing and reports false if the
	// follow-up was not pending, so a fire happens at most once.
	MarkFollowUpFired(ctx context.Context, id string, firedAt time.Time) (bool, error)
	// RescheduleFollowUp moves a recurring follow-up back to pending
	// with a new ExecuteAt.
	RescheduleFollowUp(ctx context.Context, id string, executeAt time.Time) error
	CancelFollowUp(ctx context.Context, id string) (bool, error)

	// Sub-agent links
	CreateSubAgentLink(ctx context.Context, link *models.SubAgentLink) error
	ListSubAgentLinks(ctx context.Context, parentSessionID string) ([]*models.SubAgentLink, error)
	UpdateSubAgentLinkStatus(ctx context.Context, id string, status models.SubAgentStatus) error

	// Usage counters, keyed by (org, UTC day)
	AddUsage(ctx context.Context, orgID, day string, inputTokens, outputTokens int, costUSD float64) error
	GetUsage(ctx context.Context, orgID, day string) (*models.UsageCounter, error)

	// Email bindings for the inbound adapter
	BindEmailAddress(ctx context.Context, address, agentID string) error
	ResolveAgentByEmail(ctx context.Context, address string) (string, error)

	Close() error
}

// ListOptions filters ListSessions.
type ListOptions struct {
	Status models.SessionStatus
	Limit  int
}

// SessionUpdate carries the mutable session fields. Nil means unchanged.
type SessionUpdate struct {
	Status         *models.SessionStatus
	TokenCount     *int
	TurnCount      *int
	LastStopReason *models.StopReason
}

// TouchUpdate carries optional counter updates alongside the heartbeat.
type TouchUpdate struct {
	TokenCount *int
	TurnCount  *int
}

// StatusPtr is a convenience for building SessionUpdate values.
func StatusPtr(s models.SessionStatus) *models.SessionStatus { return &s }

// IntPtr is a convenience for building update values.
func IntPtr(i int) *int { return &i }

// StopReasonPtr is a convenience for building SessionUpdate values.
func StopReasonPtr(r models.StopReason) *models.StopReason { return &r }
