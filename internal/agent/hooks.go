package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/agenticmail/agenticmail/internal/observability"
	"github.com/agenticmail/agenticmail/pkg/models"
)

// BudgetDecision is the outcome of a budget check before a model call.
type BudgetDecision struct {
	Allowed      bool
	Reason       string
	RemainingUSD float64
}

// ToolDecision is the outcome of a policy check before a tool call.
// ModifiedInput, when non-nil, replaces the model-provided input.
type ToolDecision struct {
	Allowed       bool
	Reason        string
	ModifiedInput json.RawMessage
}

// UsageReport describes one completed model call for accounting hooks.
type UsageReport struct {
	SessionID    string
	OrgID        string
	AgentID      string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Hook observes and steers the session lifecycle. Implementations
// embed BaseHook and override what they need. Every method is
// optional; errors from observational hooks are logged and swallowed.
type Hook interface {
	// OnSessionStart fires when a session handle starts running.
	OnSessionStart(ctx context.Context, session *models.Session) error

	// BeforeLLMCall may rewrite the outgoing transcript. Returning
	// nil messages means "unchanged".
	BeforeLLMCall(ctx context.Context, session *models.Session, messages []*models.Message) ([]*models.Message, error)

	// CheckBudget decides whether the next model call may proceed.
	CheckBudget(ctx context.Context, session *models.Session) (*BudgetDecision, error)

	// RecordLLMUsage fires after each model call with token counts
	// and the computed cost.
	RecordLLMUsage(ctx context.Context, report *UsageReport) error

	// BeforeToolCall decides whether a tool call may proceed and may
	// rewrite its input.
	BeforeToolCall(ctx context.Context, session *models.Session, toolName, callID string, input json.RawMessage) (*ToolDecision, error)

	// AfterToolCall fires after a tool call completes.
	AfterToolCall(ctx context.Context, session *models.Session, record *models.ToolCallRecord) error

	// OnContextCompaction fires after the transcript is compacted.
	OnContextCompaction(ctx context.Context, session *models.Session, beforeCount, afterCount int) error

	// OnSessionEnd fires when a session reaches a terminal status or
	// pauses.
	OnSessionEnd(ctx context.Context, session *models.Session) error
}

// BaseHook is a no-op Hook for embedding.
type BaseHook struct{}

func (BaseHook) OnSessionStart(context.Context, *models.Session) error { return nil }
func (BaseHook) BeforeLLMCall(_ context.Context, _ *models.Session, _ []*models.Message) ([]*models.Message, error) {
	return nil, nil
}
func (BaseHook) CheckBudget(context.Context, *models.Session) (*BudgetDecision, error) {
	return nil, nil
}
func (BaseHook) RecordLLMUsage(context.Context, *UsageReport) error { return nil }
func (BaseHook) BeforeToolCall(_ context.Context, _ *models.Session, _ string, _ string, _ json.RawMessage) (*ToolDecision, error) {
	return nil, nil
}
func (BaseHook) AfterToolCall(context.Context, *models.Session, *models.ToolCallRecord) error {
	return nil
}
func (BaseHook) OnContextCompaction(context.Context, *models.Session, int, int) error { return nil }
func (BaseHook) OnSessionEnd(context.Context, *models.Session) error                  { return nil }

// HookChain runs registered hooks in registration order. Gating hooks
// (CheckBudget, BeforeToolCall) honor an explicit deny; a hook that
// fails with an error is skipped so a broken hook cannot wedge
// sessions.
type HookChain struct {
	mu     sync.RWMutex
	hooks  []Hook
	logger *observability.Logger
}

// NewHookChain creates an empty chain.
func NewHookChain(logger *observability.Logger) *HookChain {
	if logger == nil {
		logger = observability.Discard()
	}
	return &HookChain{logger: logger}
}

// Add appends a hook to the chain.
func (c *HookChain) Add(hook Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

func (c *HookChain) snapshot() []Hook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hooks := make([]Hook, len(c.hooks))
	copy(hooks, c.hooks)
	return hooks
}

func (c *HookChain) OnSessionStart(ctx context.Context, session *models.Session) {
	for _, hook := range c.snapshot() {
		if err := hook.OnSessionStart(ctx, session); err != nil {
			c.logger.Warn(ctx, "session start hook failed", "error", err)
		}
	}
}

// BeforeLLMCall threads the transcript through each hook. A failing
// hook leaves the transcript as the previous hook produced it.
func (c *HookChain) BeforeLLMCall(ctx context.Context, session *models.Session, messages []*models.Message) []*models.Message {
	current := messages
	for _, hook := range c.snapshot() {
		modified, err := hook.BeforeLLMCall(ctx, session, current)
		if err != nil {
			c.logger.Warn(ctx, "before-llm hook failed", "error", err)
			continue
		}
		if modified != nil {
			current = modified
		}
	}
	return current
}

// CheckBudget returns the first explicit denial, or the decision with
// the lowest remaining budget when all hooks allow. No hooks means
// unlimited.
func (c *HookChain) CheckBudget(ctx context.Context, session *models.Session) *BudgetDecision {
	var tightest *BudgetDecision
	for _, hook := range c.snapshot() {
		decision, err := hook.CheckBudget(ctx, session)
		if err != nil {
			c.logger.Warn(ctx, "budget hook failed", "error", err)
			continue
		}
		if decision == nil {
			continue
		}
		if !decision.Allowed {
			return decision
		}
		if tightest == nil || decision.RemainingUSD < tightest.RemainingUSD {
			tightest = decision
		}
	}
	if tightest == nil {
		return &BudgetDecision{Allowed: true, RemainingUSD: -1}
	}
	return tightest
}

func (c *HookChain) RecordLLMUsage(ctx context.Context, report *UsageReport) {
	for _, hook := range c.snapshot() {
		if err := hook.RecordLLMUsage(ctx, report); err != nil {
			c.logger.Warn(ctx, "usage hook failed", "error", err)
		}
	}
}

// BeforeToolCall returns the first explicit denial. Input rewrites
// compose in registration order.
func (c *HookChain) BeforeToolCall(ctx context.Context, session *models.Session, toolName, callID string, input json.RawMessage) *ToolDecision {
	current := input
	for _, hook := range c.snapshot() {
		decision, err := hook.BeforeToolCall(ctx, session, toolName, callID, current)
		if err != nil {
			c.logger.Warn(ctx, "tool policy hook failed", "tool", toolName, "error", err)
			continue
		}
		if decision == nil {
			continue
		}
		if !decision.Allowed {
			return decision
		}
		if decision.ModifiedInput != nil {
			current = decision.ModifiedInput
		}
	}
	return &ToolDecision{Allowed: true, ModifiedInput: current}
}

func (c *HookChain) AfterToolCall(ctx context.Context, session *models.Session, record *models.ToolCallRecord) {
	for _, hook := range c.snapshot() {
		if err := hook.AfterToolCall(ctx, session, record); err != nil {
			c.logger.Warn(ctx, "after-tool hook failed", "tool", record.ToolName, "error", err)
		}
	}
}

func (c *HookChain) OnContextCompaction(ctx context.Context, session *models.Session, beforeCount, afterCount int) {
	for _, hook := range c.snapshot() {
		if err := hook.OnContextCompaction(ctx, session, beforeCount, afterCount); err != nil {
			c.logger.Warn(ctx, "compaction hook failed", "error", err)
		}
	}
}

func (c *HookChain) OnSessionEnd(ctx context.Context, session *models.Session) {
	for _, hook := range c.snapshot() {
		if err := hook.OnSessionEnd(ctx, session); err != nil {
			c.logger.Warn(ctx, "session end hook failed", "error", err)
		}
	}
}
