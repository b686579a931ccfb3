package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticmail/agenticmail/internal/clock"
	"github.com/agenticmail/agenticmail/internal/config"
	"github.com/agenticmail/agenticmail/internal/llm"
	"github.com/agenticmail/agenticmail/internal/observability"
	"github.com/agenticmail/agenticmail/internal/retry"
	"github.com/agenticmail/agenticmail/internal/store"
	"github.com/agenticmail/agenticmail/pkg/models"
)

// resumeMessage is appended to every session resumed after a restart.
const resumeMessageFormat = "Session resumed after process restart. Continue where you left off. Current time: %s"

// subAgentTaskPrefix marks the first message of a spawned child session.
const subAgentTaskPrefix = "[Sub-Agent Task] "

// AgentConfig describes one registered agent.
type AgentConfig struct {
	ID           string
	OrgID        string
	SystemPrompt string

	// Provider and Model default to the runtime's default model.
	Provider string
	Model    string

	Thinking             bool
	ThinkingBudgetTokens int
	MaxTokens            int
	MaxTurns             int
	ContextWindow        int

	// EmailAddress, when set, routes inbound mail to this agent.
	EmailAddress string

	Tools []Tool
}

// ClientFactory builds a model client for a provider. Swappable so
// tests can script model behavior.
type ClientFactory func(provider, apiKey, model string) (llm.ModelClient, error)

type agentEntry struct {
	config   AgentConfig
	registry *ToolRegistry
}

type sessionHandle struct {
	sessionID string
	agentID   string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Runtime supervises sessions: spawning, message delivery, liveness,
// sub-agents, and resume after restart.
type Runtime struct {
	config  config.RuntimeConfig
	store   store.Store
	clk     clock.Clock
	hooks   *HookChain
	bus     *EventBus
	pricing *PricingTable
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	factory ClientFactory

	mu     sync.Mutex
	agents map[string]*agentEntry
	active map[string]*sessionHandle

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Option customizes runtime construction.
type Option func(*Runtime)

// WithClock substitutes the clock, for deterministic tests.
func WithClock(clk clock.Clock) Option { return func(r *Runtime) { r.clk = clk } }

// WithClientFactory substitutes model client construction.
func WithClientFactory(f ClientFactory) Option { return func(r *Runtime) { r.factory = f } }

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option { return func(r *Runtime) { r.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option { return func(r *Runtime) { r.metrics = m } }

// WithTracer sets the tracer; spans cover turns, model calls, and tool
// executions.
func WithTracer(t *observability.Tracer) Option { return func(r *Runtime) { r.tracer = t } }

// WithPricing overrides the pricing table.
func WithPricing(p *PricingTable) Option { return func(r *Runtime) { r.pricing = p } }

// WithHooks sets the hook chain.
func WithHooks(h *HookChain) Option { return func(r *Runtime) { r.hooks = h } }

// NewRuntime creates a runtime over the given store.
func NewRuntime(cfg config.RuntimeConfig, st store.Store, opts ...Option) *Runtime {
	cfg.Sanitize()
	r := &Runtime{
		config:  cfg,
		store:   st,
		clk:     clock.Real(),
		bus:     NewEventBus(),
		pricing: NewPricingTable(nil),
		logger:  observability.Discard(),
		tracer:  observability.NopTracer(),
		agents:  make(map[string]*agentEntry),
		active:  make(map[string]*sessionHandle),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.hooks == nil {
		r.hooks = NewHookChain(r.logger)
	}
	if r.factory == nil {
		r.factory = defaultClientFactory(r.retryConfig(), r.logger)
	}
	return r
}

func (r *Runtime) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries: r.config.Retry.MaxRetries,
		BaseDelay:  time.Duration(r.config.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(r.config.Retry.MaxDelayMs) * time.Millisecond,
		MaxTotal:   time.Duration(r.config.Retry.MaxTotalMs) * time.Millisecond,
	}
}

func defaultClientFactory(retryCfg retry.Config, logger *observability.Logger) ClientFactory {
	return func(provider, apiKey, model string) (llm.ModelClient, error) {
		var inner llm.ModelClient
		var err error
		switch provider {
		case "anthropic":
			inner, err = llm.NewAnthropic(llm.AnthropicConfig{APIKey: apiKey, DefaultModel: model})
		case "openai":
			inner, err = llm.NewOpenAI(llm.OpenAIConfig{APIKey: apiKey, DefaultModel: model})
		default:
			return nil, NewError(KindInvalidArgument, fmt.Sprintf("unknown provider %q", provider))
		}
		if err != nil {
			return nil, err
		}
		return llm.NewRetrying(inner, retryCfg, logger), nil
	}
}

// RegisterAgent makes an agent spawnable and binds its email address.
func (r *Runtime) RegisterAgent(ctx context.Context, cfg AgentConfig) error {
	if cfg.ID == "" {
		return NewError(KindInvalidArgument, "agent id is empty")
	}
	if cfg.Provider == "" {
		cfg.Provider = r.config.DefaultModel.Provider
	}
	if cfg.Model == "" {
		cfg.Model = r.config.DefaultModel.ModelID
	}

	registry := NewToolRegistry()
	for _, tool := range cfg.Tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("agent %s: %w", cfg.ID, err)
		}
	}

	if cfg.EmailAddress != "" {
		if err := r.store.BindEmailAddress(ctx, cfg.EmailAddress, cfg.ID); err != nil {
			return fmt.Errorf("agent %s: bind email: %w", cfg.ID, err)
		}
	}

	r.mu.Lock()
	r.agents[cfg.ID] = &agentEntry{config: cfg, registry: registry}
	r.mu.Unlock()
	return nil
}

func (r *Runtime) agent(id string) (*agentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[id]
	if !ok {
		return nil, NewError(KindNotFound, fmt.Sprintf("agent %s is not registered", id))
	}
	return entry, nil
}

// Spawn creates a session for an agent and starts its loop. API key
// resolution fails fast so misconfiguration surfaces at spawn, not on
// the first model call.
func (r *Runtime) Spawn(ctx context.Context, agentID, firstMessage string) (*models.Session, error) {
	entry, err := r.agent(agentID)
	if err != nil {
		return nil, err
	}
	client, err := r.buildClient(entry)
	if err != nil {
		return nil, err
	}

	sess, err := r.store.CreateSession(ctx, agentID, entry.config.OrgID, "")
	if err != nil {
		return nil, NewError(KindInternal, "create session").WithCause(err)
	}
	if err := r.seedMessages(ctx, sess, entry, firstMessage); err != nil {
		return nil, err
	}

	r.publishLifecycle(sess, models.EventSessionStart)
	r.startLoop(sess, entry, client)
	return sess, nil
}

func (r *Runtime) buildClient(entry *agentEntry) (llm.ModelClient, error) {
	provider := entry.config.Provider
	apiKey := r.config.APIKey(provider)
	if apiKey == "" {
		return nil, NewError(KindUnauthenticated, fmt.Sprintf("no API key configured for provider %q", provider))
	}
	client, err := r.factory(provider, apiKey, entry.config.Model)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Runtime) seedMessages(ctx context.Context, sess *models.Session, entry *agentEntry, firstMessage string) error {
	if entry.config.SystemPrompt != "" {
		msg := newSessionMessage(sess.ID, models.RoleSystem, entry.config.SystemPrompt)
		if err := r.store.AppendMessage(ctx, sess.ID, msg); err != nil {
			return NewError(KindInternal, "seed system prompt").WithSession(sess.ID).WithCause(err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if firstMessage != "" {
		msg := newSessionMessage(sess.ID, models.RoleUser, firstMessage)
		if err := r.store.AppendMessage(ctx, sess.ID, msg); err != nil {
			return NewError(KindInternal, "seed first message").WithSession(sess.ID).WithCause(err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	return nil
}

func newSessionMessage(sessionID string, role models.Role, text string) *models.Message {
	msg := models.NewTextMessage(role, text)
	msg.ID = uuid.NewString()
	msg.SessionID = sessionID
	return msg
}

// startLoop runs the session's loop on its own goroutine and tracks
// the handle for cancellation. The check-and-install is atomic: if a
// loop is already registered for this session, no second one starts.
func (r *Runtime) startLoop(sess *models.Session, entry *agentEntry, client llm.ModelClient) {
	loopCtx, cancel := context.WithCancel(context.Background())
	handle := &sessionHandle{
		sessionID: sess.ID,
		agentID:   sess.AgentID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, running := r.active[sess.ID]; running {
		r.mu.Unlock()
		cancel()
		return
	}
	r.active[sess.ID] = handle
	r.mu.Unlock()

	loop := NewAgentLoop(LoopConfig{
		Provider:             entry.config.Provider,
		Model:                entry.config.Model,
		MaxTokens:            entry.config.MaxTokens,
		MaxTurns:             entry.config.MaxTurns,
		ContextWindow:        entry.config.ContextWindow,
		Thinking:             entry.config.Thinking,
		ThinkingBudgetTokens: entry.config.ThinkingBudgetTokens,
	}, r.store, client, entry.registry, r.executor(entry.registry), r.hooks, r.bus, r.pricing, r.logger, r.metrics, r.tracer)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(handle.done)
		if r.metrics != nil {
			r.metrics.SessionStarted(sess.AgentID)
			defer r.metrics.SessionEnded(sess.AgentID)
		}
		if err := loop.Run(loopCtx, sess); err != nil {
			r.logger.Error(loopCtx, "session loop exited with store failure",
				"session_id", sess.ID, "error", err)
		}
		r.mu.Lock()
		if r.active[sess.ID] == handle {
			delete(r.active, sess.ID)
		}
		r.mu.Unlock()
	}()
}

func (r *Runtime) executor(registry *ToolRegistry) *ToolExecutor {
	// Executors are cheap; build one per loop so each carries the
	// registry it validates against.
	return NewToolExecutor(registry, time.Duration(r.config.ToolTimeoutMs)*time.Millisecond, r.logger, r.metrics, r.tracer)
}

// SendMessage appends a user message and ensures the session's loop is
// running. Terminal sessions reject delivery.
func (r *Runtime) SendMessage(ctx context.Context, sessionID, text string) error {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewError(KindNotFound, "session does not exist").WithSession(sessionID)
		}
		return NewError(KindInternal, "load session").WithSession(sessionID).WithCause(err)
	}
	if sess.Status.Terminal() {
		return NewError(KindPreconditionFailed,
			fmt.Sprintf("session is %s and cannot accept messages", sess.Status)).WithSession(sessionID)
	}

	msg := newSessionMessage(sessionID, models.RoleUser, text)
	if err := r.store.AppendMessage(ctx, sessionID, msg); err != nil {
		return NewError(KindInternal, "append message").WithSession(sessionID).WithCause(err)
	}
	sess.Messages = append(sess.Messages, msg)

	r.mu.Lock()
	_, running := r.active[sessionID]
	r.mu.Unlock()
	if running {
		return nil
	}
	return r.restartLoop(ctx, sess)
}

// restartLoop moves a paused or idle session back to active and starts
// a fresh loop over its stored transcript.
func (r *Runtime) restartLoop(ctx context.Context, sess *models.Session) error {
	entry, err := r.agent(sess.AgentID)
	if err != nil {
		return err
	}
	client, err := r.buildClient(entry)
	if err != nil {
		return err
	}

	if sess.Status != models.StatusActive {
		if err := r.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{
			Status: store.StatusPtr(models.StatusActive),
		}); err != nil {
			return NewError(KindInternal, "reactivate session").WithSession(sess.ID).WithCause(err)
		}
		sess.Status = models.StatusActive
	}
	r.startLoop(sess, entry, client)
	return nil
}

// Terminate cancels the session's loop, marks it completed, and
// cancels active children transitively.
func (r *Runtime) Terminate(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	handle := r.active[sessionID]
	r.mu.Unlock()
	if handle != nil {
		handle.cancel()
		<-handle.done
	}

	status := models.StatusCompleted
	stop := models.StopCancelled
	if err := r.store.UpdateSession(ctx, sessionID, store.SessionUpdate{
		Status:         &status,
		LastStopReason: &stop,
	}); err != nil && !errors.Is(err, store.ErrNotFound) {
		return NewError(KindInternal, "mark session completed").WithSession(sessionID).WithCause(err)
	}

	links, err := r.store.ListSubAgentLinks(ctx, sessionID)
	if err != nil {
		return NewError(KindInternal, "list children").WithSession(sessionID).WithCause(err)
	}
	for _, link := range links {
		if link.Status != models.SubAgentActive {
			continue
		}
		if err := r.store.UpdateSubAgentLinkStatus(ctx, link.ID, models.SubAgentCancelled); err != nil {
			r.logger.Warn(ctx, "cancel child link failed", "link_id", link.ID, "error", err)
		}
		if err := r.Terminate(ctx, link.ChildSessionID); err != nil {
			r.logger.Warn(ctx, "terminate child failed",
				"child_session_id", link.ChildSessionID, "error", err)
		}
	}

	r.bus.CloseSession(sessionID)
	return nil
}

// SpawnSubAgent creates a child session working on a task for the
// parent. Depth and fan-out are capped.
func (r *Runtime) SpawnSubAgent(ctx context.Context, parentSessionID, task string) (*models.Session, error) {
	parent, err := r.store.GetSession(ctx, parentSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(KindNotFound, "parent session does not exist").WithSession(parentSessionID)
		}
		return nil, NewError(KindInternal, "load parent").WithSession(parentSessionID).WithCause(err)
	}
	if parent.Status.Terminal() {
		return nil, NewError(KindPreconditionFailed, "parent session is terminal").WithSession(parentSessionID)
	}

	depth, err := r.sessionDepth(ctx, parent)
	if err != nil {
		return nil, err
	}
	if depth+1 > r.config.SubAgents.MaxDepth {
		return nil, NewError(KindPreconditionFailed,
			fmt.Sprintf("sub-agent depth limit %d reached", r.config.SubAgents.MaxDepth)).WithSession(parentSessionID)
	}

	links, err := r.store.ListSubAgentLinks(ctx, parentSessionID)
	if err != nil {
		return nil, NewError(KindInternal, "list children").WithSession(parentSessionID).WithCause(err)
	}
	activeChildren := 0
	for _, link := range links {
		if link.Status == models.SubAgentActive {
			activeChildren++
		}
	}
	if activeChildren >= r.config.SubAgents.MaxChildren {
		return nil, NewError(KindPreconditionFailed,
			fmt.Sprintf("sub-agent fan-out limit %d reached", r.config.SubAgents.MaxChildren)).WithSession(parentSessionID)
	}

	entry, err := r.agent(parent.AgentID)
	if err != nil {
		return nil, err
	}
	client, err := r.buildClient(entry)
	if err != nil {
		return nil, err
	}

	child, err := r.store.CreateSession(ctx, parent.AgentID, parent.OrgID, parentSessionID)
	if err != nil {
		return nil, NewError(KindInternal, "create child session").WithCause(err)
	}
	if err := r.seedMessages(ctx, child, entry, subAgentTaskPrefix+task); err != nil {
		return nil, err
	}
	if err := r.store.CreateSubAgentLink(ctx, &models.SubAgentLink{
		ID:              uuid.NewString(),
		ParentSessionID: parentSessionID,
		ChildSessionID:  child.ID,
		Task:            task,
		Status:          models.SubAgentActive,
		CreatedAt:       r.clk.Now(),
	}); err != nil {
		return nil, NewError(KindInternal, "record child link").WithCause(err)
	}

	r.publishLifecycle(child, models.EventSessionStart)
	r.startLoop(child, entry, client)
	return child, nil
}

// sessionDepth counts the parent chain, the root counting as 1.
func (r *Runtime) sessionDepth(ctx context.Context, sess *models.Session) (int, error) {
	depth := 1
	current := sess
	for current.ParentID != "" {
		parent, err := r.store.GetSession(ctx, current.ParentID)
		if err != nil {
			return 0, NewError(KindInternal, "walk parent chain").WithSession(sess.ID).WithCause(err)
		}
		depth++
		current = parent
		if depth > r.config.SubAgents.MaxDepth {
			break
		}
	}
	return depth, nil
}

// HandleInboundEmail routes a message to the agent bound to the
// address: into its newest active session, or a fresh one.
func (r *Runtime) HandleInboundEmail(ctx context.Context, address, text string) (*models.Session, error) {
	agentID, err := r.store.ResolveAgentByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(KindNotFound, fmt.Sprintf("no agent bound to %s", address))
		}
		return nil, NewError(KindInternal, "resolve email binding").WithCause(err)
	}

	sessions, err := r.store.ListSessions(ctx, agentID, store.ListOptions{
		Status: models.StatusActive,
		Limit:  1,
	})
	if err != nil {
		return nil, NewError(KindInternal, "list sessions").WithCause(err)
	}
	if len(sessions) > 0 {
		sess := sessions[0]
		if err := r.SendMessage(ctx, sess.ID, text); err != nil {
			return nil, err
		}
		return sess, nil
	}
	return r.Spawn(ctx, agentID, text)
}

// Start resumes persisted active sessions and launches the liveness
// tick loops. Call once.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return NewError(KindPreconditionFailed, "runtime already started")
	}
	r.started = true
	r.mu.Unlock()

	if r.config.ResumeOnStartup == nil || *r.config.ResumeOnStartup {
		if err := r.resumeSessions(ctx); err != nil {
			return err
		}
	}

	r.wg.Add(3)
	go r.tickLoop(time.Duration(r.config.HeartbeatIntervalMs)*time.Millisecond, r.heartbeatTick)
	go r.tickLoop(time.Duration(r.config.StaleSessionTimeoutMs)*time.Millisecond, r.staleTick)
	go r.tickLoop(time.Duration(r.config.KeepaliveMs)*time.Millisecond, r.keepaliveTick)
	return nil
}

// resumeSessions restarts every persisted active session. Sessions
// with an empty transcript cannot make progress and are failed.
func (r *Runtime) resumeSessions(ctx context.Context) error {
	sessions, err := r.store.FindActiveSessions(ctx)
	if err != nil {
		return NewError(KindInternal, "find active sessions").WithCause(err)
	}

	for _, sess := range sessions {
		if len(sess.Messages) == 0 {
			r.logger.Warn(ctx, "resuming session with no messages, failing it", "session_id", sess.ID)
			if err := r.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{
				Status:         store.StatusPtr(models.StatusFailed),
				LastStopReason: store.StopReasonPtr(models.StopError),
			}); err != nil {
				r.logger.Error(ctx, "fail empty session", "session_id", sess.ID, "error", err)
			}
			continue
		}

		entry, err := r.agent(sess.AgentID)
		if err != nil {
			r.logger.Warn(ctx, "cannot resume session, agent not registered",
				"session_id", sess.ID, "agent_id", sess.AgentID)
			continue
		}
		client, err := r.buildClient(entry)
		if err != nil {
			r.logger.Error(ctx, "cannot resume session", "session_id", sess.ID, "error", err)
			continue
		}

		text := fmt.Sprintf(resumeMessageFormat, r.clk.Now().UTC().Format(time.RFC3339))
		msg := newSessionMessage(sess.ID, models.RoleSystem, text)
		if err := r.store.AppendMessage(ctx, sess.ID, msg); err != nil {
			r.logger.Error(ctx, "append resume message", "session_id", sess.ID, "error", err)
			continue
		}
		sess.Messages = append(sess.Messages, msg)

		r.publishLifecycle(sess, models.EventSessionResumed)
		r.logger.Info(ctx, "session resumed", "session_id", sess.ID, "messages", len(sess.Messages))
		r.startLoop(sess, entry, client)
	}
	return nil
}

// Stop cancels all running loops and tick goroutines and waits for
// them to drain. Running sessions checkpoint and pause.
func (r *Runtime) Stop() {
	r.mu.Lock()
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	handles := make([]*sessionHandle, 0, len(r.active))
	for _, handle := range r.active {
		handles = append(handles, handle)
	}
	r.mu.Unlock()

	for _, handle := range handles {
		handle.cancel()
	}
	r.wg.Wait()
}

// GetSession returns a session with its full message list.
func (r *Runtime) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := r.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(KindNotFound, "session does not exist").WithSession(id)
		}
		return nil, NewError(KindInternal, "load session").WithSession(id).WithCause(err)
	}
	return sess, nil
}

// ListSessions returns session metadata for an agent.
func (r *Runtime) ListSessions(ctx context.Context, agentID string, opts store.ListOptions) ([]*models.Session, error) {
	return r.store.ListSessions(ctx, agentID, opts)
}

// ActiveSessionCount reports how many loops are currently running.
func (r *Runtime) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Subscribe streams one session's events.
func (r *Runtime) Subscribe(sessionID string) (<-chan *models.SessionEvent, func()) {
	return r.bus.Subscribe(sessionID)
}

// Events exposes the bus for adapters.
func (r *Runtime) Events() *EventBus { return r.bus }

// Store exposes the persistence layer for adapters.
func (r *Runtime) Store() store.Store { return r.store }

func (r *Runtime) tickLoop(interval time.Duration, fn func()) {
	defer r.wg.Done()
	timer := r.clk.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-timer.C():
			fn()
			timer.Reset(interval)
		}
	}
}

// heartbeatTick touches every running session so the stale sweep knows
// the process is alive.
func (r *Runtime) heartbeatTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.store.TouchSession(ctx, id, store.TouchUpdate{}); err != nil {
			r.logger.Warn(ctx, "heartbeat touch failed", "session_id", id, "error", err)
		}
	}
}

// staleTick marks abandoned sessions stale and cancels any local loop
// still attached to one.
func (r *Runtime) staleTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	timeout := time.Duration(r.config.StaleSessionTimeoutMs) * time.Millisecond
	ids, err := r.store.MarkStaleSessions(ctx, timeout)
	if err != nil {
		r.logger.Error(ctx, "stale sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		r.logger.Warn(ctx, "session marked stale", "session_id", id)
		r.mu.Lock()
		handle := r.active[id]
		r.mu.Unlock()
		if handle != nil {
			handle.cancel()
		}
		r.bus.CloseSession(id)
	}
}

// keepaliveTick emits heartbeat events so streaming subscribers behind
// idle-timeout proxies stay connected.
func (r *Runtime) keepaliveTick() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.bus.Publish(&models.SessionEvent{
			Type:      models.EventHeartbeat,
			SessionID: id,
			Time:      r.clk.Now(),
		})
	}
}

func (r *Runtime) publishLifecycle(sess *models.Session, eventType models.SessionEventType) {
	r.bus.Publish(&models.SessionEvent{
		Type:      eventType,
		SessionID: sess.ID,
		Time:      r.clk.Now(),
		Turn:      sess.TurnCount,
	})
}
