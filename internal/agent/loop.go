package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agenticmail/agenticmail/internal/llm"
	"github.com/agenticmail/agenticmail/internal/observability"
	"github.com/agenticmail/agenticmail/internal/store"
	"github.com/agenticmail/agenticmail/pkg/models"
)

const (
	defaultMaxTurns      = 50
	defaultContextWindow = 200000
	defaultMaxTokens     = 8192

	// budgetWarnUSD is the remaining-budget threshold below which the
	// loop emits a budget_warning event before proceeding.
	budgetWarnUSD = 1.0
)

// LoopConfig parameterizes one session's loop.
type LoopConfig struct {
	Provider             string
	Model                string
	MaxTokens            int
	MaxTurns             int
	ContextWindow        int
	Thinking             bool
	ThinkingBudgetTokens int
}

func (c *LoopConfig) sanitize() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = defaultContextWindow
	}
}

// AgentLoop drives one session: call the model, execute the tools it
// asks for, checkpoint, repeat until a terminal stop.
type AgentLoop struct {
	config   LoopConfig
	store    store.Store
	client   llm.ModelClient
	registry *ToolRegistry
	executor *ToolExecutor
	hooks    *HookChain
	bus      *EventBus
	pricing  *PricingTable
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewAgentLoop wires a loop from its dependencies.
func NewAgentLoop(config LoopConfig, st store.Store, client llm.ModelClient, registry *ToolRegistry, executor *ToolExecutor, hooks *HookChain, bus *EventBus, pricing *PricingTable, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *AgentLoop {
	config.sanitize()
	if logger == nil {
		logger = observability.Discard()
	}
	if pricing == nil {
		pricing = NewPricingTable(nil)
	}
	if hooks == nil {
		hooks = NewHookChain(logger)
	}
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return &AgentLoop{
		config:   config,
		store:    st,
		client:   client,
		registry: registry,
		executor: executor,
		hooks:    hooks,
		bus:      bus,
		pricing:  pricing,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Run executes the loop until the session reaches a terminal status or
// ctx is cancelled. The session's final status is persisted before
// returning; the returned error reports only unrecoverable store
// failures.
func (l *AgentLoop) Run(ctx context.Context, sess *models.Session) error {
	ctx = observability.WithSession(ctx, sess.ID)
	l.hooks.OnSessionStart(ctx, sess)

	for {
		if ctx.Err() != nil {
			return l.finish(sess, models.StatusPaused, models.StopCancelled)
		}
		if sess.TurnCount >= l.config.MaxTurns {
			l.logger.Info(ctx, "turn limit reached", "turns", sess.TurnCount)
			return l.finish(sess, models.StatusCompleted, models.StopMaxTurns)
		}
		status, stop, done := l.turn(ctx, sess)
		if done {
			return l.finish(sess, status, stop)
		}
	}
}

// turn runs one think-act turn under its own span. done reports that
// the loop should stop and persist status and stop reason.
func (l *AgentLoop) turn(ctx context.Context, sess *models.Session) (status models.SessionStatus, stop models.StopReason, done bool) {
	turn := sess.TurnCount + 1
	ctx, span := l.tracer.Start(ctx, "agent.turn",
		attribute.String("session.id", sess.ID),
		attribute.Int("turn.number", turn),
	)
	defer span.End()

	if err := l.store.TouchSession(ctx, sess.ID, store.TouchUpdate{}); err != nil {
		l.logger.Warn(ctx, "heartbeat touch failed", "error", err)
	}
	l.publish(sess, turn, models.SessionEvent{Type: models.EventTurnStart})

	messages := l.hooks.BeforeLLMCall(ctx, sess, sess.Messages)

	if NeedsCompaction(messages, l.config.ContextWindow) {
		messages = l.compact(ctx, sess, messages)
	}

	budget := l.hooks.CheckBudget(ctx, sess)
	if !budget.Allowed {
		l.publish(sess, turn, models.SessionEvent{
			Type:   models.EventBudgetExceeded,
			Budget: &models.BudgetPayload{Reason: budget.Reason, RemainingUSD: budget.RemainingUSD},
		})
		l.logger.Info(ctx, "budget exhausted", "reason", budget.Reason)
		return models.StatusCompleted, models.StopBudget, true
	}
	if budget.RemainingUSD >= 0 && budget.RemainingUSD < budgetWarnUSD {
		l.publish(sess, turn, models.SessionEvent{
			Type:   models.EventBudgetWarning,
			Budget: &models.BudgetPayload{RemainingUSD: budget.RemainingUSD},
		})
	}

	result, err := l.callModel(ctx, sess, turn, messages)
	if err != nil {
		if ctx.Err() != nil {
			return models.StatusPaused, models.StopCancelled, true
		}
		observability.RecordError(span, err)
		if l.metrics != nil {
			l.metrics.RecordError("loop", string(KindOf(err)))
		}
		l.publish(sess, turn, models.SessionEvent{
			Type:  models.EventError,
			Error: &models.ErrorPayload{Message: err.Error(), Retriable: KindOf(err).Retryable()},
		})
		l.logger.Error(ctx, "model call failed", "error", err)
		return models.StatusFailed, models.StopError, true
	}

	sess.Messages = append(sess.Messages, result.message)
	sess.TurnCount = turn
	sess.TokenCount += result.inputTokens + result.outputTokens
	sess.LastStopReason = result.stop

	l.recordUsage(ctx, sess, result)
	l.checkpoint(ctx, sess, turn)

	switch result.stop {
	case models.StopToolUse:
		toolMsg := l.runTools(ctx, sess, turn, result.message)
		sess.Messages = append(sess.Messages, toolMsg)
		l.checkpoint(ctx, sess, turn)
		l.publish(sess, turn, models.SessionEvent{Type: models.EventTurnEnd})
		return "", "", false

	case models.StopMaxTokens:
		// Output was clipped; compact so the next attempt has room.
		sess.Messages = l.compact(ctx, sess, sess.Messages)
		l.publish(sess, turn, models.SessionEvent{Type: models.EventTurnEnd})
		return "", "", false

	default:
		// end_turn, content_filter, and anything unrecognized end
		// the session cleanly.
		l.publish(sess, turn, models.SessionEvent{Type: models.EventTurnEnd})
		return models.StatusCompleted, result.stop, true
	}
}

// turnResult is one model call's accumulated output.
type turnResult struct {
	message      *models.Message
	stop         models.StopReason
	inputTokens  int
	outputTokens int
	duration     time.Duration
}

// callModel streams one completion, forwarding deltas to subscribers
// and accumulating the assistant message in block order.
func (l *AgentLoop) callModel(ctx context.Context, sess *models.Session, turn int, messages []*models.Message) (*turnResult, error) {
	ctx, span := l.tracer.Start(ctx, "llm.call",
		attribute.String("llm.provider", l.client.Provider()),
		attribute.String("llm.model", l.config.Model),
	)
	defer span.End()

	req := llm.Request{
		Model:                l.config.Model,
		Messages:             messages,
		Tools:                l.toolDefs(),
		MaxTokens:            l.config.MaxTokens,
		Thinking:             l.config.Thinking,
		ThinkingBudgetTokens: l.config.ThinkingBudgetTokens,
	}

	started := time.Now()
	stream, err := l.client.Call(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		if l.metrics != nil {
			l.metrics.RecordModelCall(l.client.Provider(), l.config.Model, "error", time.Since(started).Seconds(), 0, 0)
		}
		return nil, err
	}
	defer stream.Close()

	result := &turnResult{
		message: &models.Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Role:      models.RoleAssistant,
			CreatedAt: time.Now(),
		},
		stop: models.StopEndTurn,
	}
	var text, thinking []byte

	flushText := func() {
		if len(thinking) > 0 {
			result.message.Content = append(result.message.Content, models.ThinkingBlock(string(thinking)))
			thinking = nil
		}
		if len(text) > 0 {
			result.message.Content = append(result.message.Content, models.TextBlock(string(text)))
			text = nil
		}
	}

	for stream.Next() {
		delta := stream.Current()
		switch delta.Type {
		case llm.DeltaThinking:
			thinking = append(thinking, delta.Text...)
			l.publish(sess, turn, models.SessionEvent{
				Type:  models.EventThinkingDelta,
				Delta: &models.DeltaPayload{Text: delta.Text},
			})
		case llm.DeltaText:
			text = append(text, delta.Text...)
			l.publish(sess, turn, models.SessionEvent{
				Type:  models.EventTextDelta,
				Delta: &models.DeltaPayload{Text: delta.Text},
			})
		case llm.DeltaToolUseEnd:
			flushText()
			input := delta.FinalInput
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			result.message.Content = append(result.message.Content,
				models.ToolUseBlock(delta.ToolID, delta.ToolName, input))
		case llm.DeltaUsage:
			result.inputTokens = delta.InputTokens
			result.outputTokens = delta.OutputTokens
		case llm.DeltaStop:
			result.stop = delta.Stop
		}
	}
	flushText()
	result.duration = time.Since(started)

	if err := stream.Err(); err != nil {
		observability.RecordError(span, err)
		if l.metrics != nil {
			l.metrics.RecordModelCall(l.client.Provider(), l.config.Model, "error", result.duration.Seconds(), 0, 0)
		}
		return nil, err
	}
	if result.inputTokens == 0 && result.outputTokens == 0 {
		// Some providers omit usage; estimate so accounting and the
		// compaction trigger still track transcript growth.
		result.inputTokens = llm.EstimateTokens(messages)
		result.outputTokens = llm.EstimateTokens([]*models.Message{result.message})
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", result.inputTokens),
		attribute.Int("llm.output_tokens", result.outputTokens),
		attribute.String("llm.stop_reason", string(result.stop)),
	)
	if l.metrics != nil {
		l.metrics.RecordModelCall(l.client.Provider(), l.config.Model, "success", result.duration.Seconds(), result.inputTokens, result.outputTokens)
	}
	return result, nil
}

// runTools executes the assistant message's tool calls in content
// order and returns the single user message carrying their results.
func (l *AgentLoop) runTools(ctx context.Context, sess *models.Session, turn int, assistant *models.Message) *models.Message {
	results := make([]models.Block, 0, 2)
	for _, use := range assistant.ToolUses() {
		l.publish(sess, turn, models.SessionEvent{
			Type: models.EventToolCallStart,
			Tool: &models.ToolPayload{CallID: use.ID, Name: use.Name},
		})

		decision := l.hooks.BeforeToolCall(ctx, sess, use.Name, use.ID, use.Input)
		var exec *Execution
		if !decision.Allowed {
			exec = &Execution{
				CallID:   use.ID,
				ToolName: use.Name,
				Input:    use.Input,
				Result:   &ToolResult{Success: false, Error: "Tool call denied: " + decision.Reason},
				Kind:     KindPreconditionFailed,
				Started:  time.Now(),
				Finished: time.Now(),
			}
			exec.Content = exec.Result.Error
		} else {
			exec = l.executor.Execute(ctx, use.ID, use.Name, decision.ModifiedInput)
		}

		record := &models.ToolCallRecord{
			ID:         uuid.NewString(),
			SessionID:  sess.ID,
			AgentID:    sess.AgentID,
			Turn:       turn,
			ToolName:   use.Name,
			Input:      exec.Input,
			Result:     exec.Content,
			Success:    exec.Result.Success,
			DurationMs: exec.Duration().Milliseconds(),
			StartedAt:  exec.Started,
			FinishedAt: exec.Finished,
		}
		if err := l.store.RecordToolCall(ctx, record); err != nil {
			l.logger.Warn(ctx, "tool call record persist failed", "tool", use.Name, "error", err)
		}
		l.hooks.AfterToolCall(ctx, sess, record)

		l.publish(sess, turn, models.SessionEvent{
			Type: models.EventToolCallEnd,
			Tool: &models.ToolPayload{
				CallID:     use.ID,
				Name:       use.Name,
				Success:    exec.Result.Success,
				IsError:    !exec.Result.Success,
				DurationMs: exec.Duration().Milliseconds(),
			},
		})

		results = append(results, models.ToolResultBlock(use.ID, exec.Content, !exec.Result.Success))
	}

	return &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Content:   results,
		CreatedAt: time.Now(),
	}
}

// compact folds the transcript, persists it, and notifies hooks. On
// persistence failure the uncompacted transcript is kept.
func (l *AgentLoop) compact(ctx context.Context, sess *models.Session, messages []*models.Message) []*models.Message {
	compacted, changed := Compact(messages)
	if NeedsCompaction(compacted, l.config.ContextWindow) {
		// Too few messages to fold but still over threshold: a handful
		// of very large bodies. Clip them instead.
		clipped, didClip := TruncateOversized(compacted)
		if didClip {
			compacted = clipped
			changed = true
		}
	}
	if !changed {
		return messages
	}
	if err := l.store.ReplaceMessages(ctx, sess.ID, compacted); err != nil {
		l.logger.Warn(ctx, "compaction persist failed", "error", err)
		return messages
	}
	l.hooks.OnContextCompaction(ctx, sess, len(messages), len(compacted))
	if l.metrics != nil {
		l.metrics.RecordCompaction(sess.AgentID)
	}
	l.logger.Info(ctx, "transcript compacted", "before", len(messages), "after", len(compacted))
	sess.Messages = compacted
	return compacted
}

// checkpoint persists the transcript and counters. Failures are logged
// and tolerated; the next checkpoint retries the full state.
func (l *AgentLoop) checkpoint(ctx context.Context, sess *models.Session, turn int) {
	started := time.Now()
	err := l.store.ReplaceMessages(ctx, sess.ID, sess.Messages)
	l.timeStoreOp("replace_messages", started)
	if err != nil {
		l.logger.Error(ctx, "checkpoint messages failed", "error", err)
		return
	}

	started = time.Now()
	err = l.store.TouchSession(ctx, sess.ID, store.TouchUpdate{
		TokenCount: store.IntPtr(sess.TokenCount),
		TurnCount:  store.IntPtr(sess.TurnCount),
	})
	l.timeStoreOp("touch_session", started)
	if err != nil {
		l.logger.Error(ctx, "checkpoint touch failed", "error", err)
		return
	}
	l.publish(sess, turn, models.SessionEvent{Type: models.EventCheckpoint})
}

func (l *AgentLoop) timeStoreOp(op string, started time.Time) {
	if l.metrics != nil {
		l.metrics.RecordStoreOp(op, time.Since(started).Seconds())
	}
}

func (l *AgentLoop) recordUsage(ctx context.Context, sess *models.Session, result *turnResult) {
	pricing := l.pricing.Lookup(l.config.Model)
	report := &UsageReport{
		SessionID:    sess.ID,
		OrgID:        sess.OrgID,
		AgentID:      sess.AgentID,
		Provider:     l.client.Provider(),
		Model:        l.config.Model,
		InputTokens:  result.inputTokens,
		OutputTokens: result.outputTokens,
		CostUSD:      pricing.Cost(result.inputTokens, result.outputTokens),
	}
	l.hooks.RecordLLMUsage(ctx, report)

	if err := l.store.AddUsage(ctx, sess.OrgID, models.UsageDay(time.Now()),
		result.inputTokens, result.outputTokens, report.CostUSD); err != nil {
		l.logger.Warn(ctx, "usage accounting failed", "error", err)
	}
}

// finish persists the terminal (or paused) status and emits the end
// events. Uses a fresh context so a cancelled session still persists.
func (l *AgentLoop) finish(sess *models.Session, status models.SessionStatus, stop models.StopReason) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = observability.WithSession(ctx, sess.ID)

	sess.Status = status
	sess.LastStopReason = stop
	started := time.Now()
	err := l.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{
		Status:         store.StatusPtr(status),
		TokenCount:     store.IntPtr(sess.TokenCount),
		TurnCount:      store.IntPtr(sess.TurnCount),
		LastStopReason: store.StopReasonPtr(stop),
	})
	l.timeStoreOp("update_session", started)
	if err != nil {
		l.logger.Error(ctx, "final status persist failed", "status", string(status), "error", err)
	}

	l.hooks.OnSessionEnd(ctx, sess)
	l.publish(sess, sess.TurnCount, models.SessionEvent{Type: models.EventSessionEnd})
	if l.metrics != nil {
		l.metrics.RecordTurn(sess.AgentID, string(stop))
	}
	return err
}

func (l *AgentLoop) toolDefs() []llm.ToolDef {
	if l.registry == nil {
		return nil
	}
	names := l.registry.Names()
	defs := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		tool, ok := l.registry.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        tool.Name(),
			Description: tool.Label(),
			InputSchema: tool.Parameters(),
		})
	}
	return defs
}

func (l *AgentLoop) publish(sess *models.Session, turn int, event models.SessionEvent) {
	if l.bus == nil {
		return
	}
	event.SessionID = sess.ID
	event.Turn = turn
	l.bus.Publish(&event)
}
