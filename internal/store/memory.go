package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticmail/agenticmail/pkg/models"
)

// Memory is an in-memory Store for tests and ephemeral runs. All reads
// and writes copy, so callers never share state with the store.
type Memory struct {
	mu            sync.RWMutex
	sessions      map[string]*models.Session
	toolCalls     map[string][]*models.ToolCallRecord
	followUps     map[string]*models.FollowUp
	links         map[string]*models.SubAgentLink
	usage         map[string]*models.UsageCounter
	emailBindings map[string]string

	// now is swappable so stale detection can be tested with a fake clock.
	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:      make(map[string]*models.Session),
		toolCalls:     make(map[string][]*models.ToolCallRecord),
		followUps:     make(map[string]*models.FollowUp),
		links:         make(map[string]*models.SubAgentLink),
		usage:         make(map[string]*models.UsageCounter),
		emailBindings: make(map[string]string),
		now:           time.Now,
	}
}

// SetNowFunc overrides the store's clock. Tests only.
func (m *Memory) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) CreateSession(ctx context.Context, agentID, orgID, parentID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess := &models.Session{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		OrgID:           orgID,
		ParentID:        parentID,
		Status:          models.StatusActive,
		CreatedAt:       now,
		LastHeartbeatAt: now,
	}
	m.sessions[sess.ID] = sess.Clone()
	return sess, nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess.Clone(), nil
}

func (m *Memory) ListSessions(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, sess := range m.sessions {
		if agentID != "" && sess.AgentID != agentID {
			continue
		}
		if opts.Status != "" && sess.Status != opts.Status {
			continue
		}
		meta := sess.Clone()
		meta.Messages = nil
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *Memory) UpdateSession(ctx context.Context, id string, upd SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	if upd.TokenCount != nil {
		sess.TokenCount = *upd.TokenCount
	}
	if upd.TurnCount != nil {
		sess.TurnCount = *upd.TurnCount
	}
	if upd.LastStopReason != nil {
		sess.LastStopReason = *upd.LastStopReason
	}
	return nil
}

func (m *Memory) ReplaceMessages(ctx context.Context, id string, messages []*models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sess.Messages = models.CloneMessages(messages)
	return nil
}

func (m *Memory) AppendMessage(ctx context.Context, id string, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sess.Messages = append(sess.Messages, msg.Clone())
	return nil
}

func (m *Memory) TouchSession(ctx context.Context, id string, upd TouchUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	sess.LastHeartbeatAt = m.now()
	if upd.TokenCount != nil {
		sess.TokenCount = *upd.TokenCount
	}
	if upd.TurnCount != nil {
		sess.TurnCount = *upd.TurnCount
	}
	return nil
}

func (m *Memory) FindActiveSessions(ctx context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, sess := range m.sessions {
		if sess.Status == models.StatusActive {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkStaleSessions(ctx context.Context, timeout time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-timeout)
	var changed []string
	for _, sess := range m.sessions {
		if sess.Status == models.StatusActive && sess.LastHeartbeatAt.Before(cutoff) {
			sess.Status = models.StatusStale
			changed = append(changed, sess.ID)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func (m *Memory) RecordToolCall(ctx context.Context, rec *models.ToolCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.toolCalls[rec.SessionID] = append(m.toolCalls[rec.SessionID], &cp)
	return nil
}

func (m *Memory) ListToolCalls(ctx context.Context, sessionID string) ([]*models.ToolCallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.toolCalls[sessionID]
	out := make([]*models.ToolCallRecord, len(recs))
	for i, rec := range recs {
		cp := *rec
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) CreateFollowUp(ctx context.Context, f *models.FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.followUps[f.ID]; exists {
		return fmt.Errorf("follow-up %s: %w", f.ID, ErrAlreadyExists)
	}
	cp := *f
	m.followUps[f.ID] = &cp
	return nil
}

func (m *Memory) GetFollowUp(ctx context.Context, id string) (*models.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.followUps[id]
	if !ok {
		return nil, fmt.Errorf("follow-up %s: %w", id, ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) ListPendingFollowUps(ctx context.Context) ([]*models.FollowUp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.FollowUp
	for _, f := range m.followUps {
		if f.Status == models.FollowUpPending {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecuteAt.Before(out[j].ExecuteAt) })
	return out, nil
}

func (m *Memory) MarkFollowUpFired(ctx context.Context, id string, firedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.followUps[id]
	if !ok {
		return false, fmt.Errorf("follow-up %s: %w", id, ErrNotFound)
	}
	if f.Status != models.FollowUpPending {
		return false, nil
	}
	f.Status = models.FollowUpFired
	f.FiredAt = &firedAt
	return true, nil
}

func (m *Memory) RescheduleFollowUp(ctx context.Context, id string, executeAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.followUps[id]
	if !ok {
		return fmt.Errorf("follow-up %s: %w", id, ErrNotFound)
	}
	f.Status = models.FollowUpPending
	f.ExecuteAt = executeAt
	f.FiredAt = nil
	return nil
}

func (m *Memory) CancelFollowUp(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.followUps[id]
	if !ok {
		return false, fmt.Errorf("follow-up %s: %w", id, ErrNotFound)
	}
	if f.Status != models.FollowUpPending {
		return false, nil
	}
	f.Status = models.FollowUpCancelled
	return true, nil
}

func (m *Memory) CreateSubAgentLink(ctx context.Context, link *models.SubAgentLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *link
	m.links[link.ID] = &cp
	return nil
}

func (m *Memory) ListSubAgentLinks(ctx context.Context, parentSessionID string) ([]*models.SubAgentLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.SubAgentLink
	for _, link := range m.links {
		if link.ParentSessionID == parentSessionID {
			cp := *link
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateSubAgentLinkStatus(ctx context.Context, id string, status models.SubAgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[id]
	if !ok {
		return fmt.Errorf("sub-agent link %s: %w", id, ErrNotFound)
	}
	link.Status = status
	return nil
}

func usageKey(orgID, day string) string { return orgID + "|" + day }

func (m *Memory) AddUsage(ctx context.Context, orgID, day string, inputTokens, outputTokens int, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := usageKey(orgID, day)
	counter, ok := m.usage[key]
	if !ok {
		counter = &models.UsageCounter{OrgID: orgID, Day: day}
		m.usage[key] = counter
	}
	counter.InputTokens += int64(inputTokens)
	counter.OutputTokens += int64(outputTokens)
	counter.CostUSD += costUSD
	return nil
}

func (m *Memory) GetUsage(ctx context.Context, orgID, day string) (*models.UsageCounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counter, ok := m.usage[usageKey(orgID, day)]
	if !ok {
		return &models.UsageCounter{OrgID: orgID, Day: day}, nil
	}
	cp := *counter
	return &cp, nil
}

func (m *Memory) BindEmailAddress(ctx context.Context, address, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emailBindings[strings.ToLower(address)] = agentID
	return nil
}

func (m *Memory) ResolveAgentByEmail(ctx context.Context, address string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agentID, ok := m.emailBindings[strings.ToLower(address)]
	if !ok {
		return "", fmt.Errorf("email binding %s: %w", address, ErrNotFound)
	}
	return agentID, nil
}

func (m *Memory) Close() error { return nil }
