package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/agenticmail/agenticmail/pkg/models"
)

type recordingHook struct {
	BaseHook
	starts  int
	ends    int
	usage   []*UsageReport
	records []*models.ToolCallRecord
}

func (h *recordingHook) OnSessionStart(context.Context, *models.Session) error {
	h.starts++
	return nil
}

func (h *recordingHook) OnSessionEnd(context.Context, *models.Session) error {
	h.ends++
	return nil
}

func (h *recordingHook) RecordLLMUsage(_ context.Context, report *UsageReport) error {
	h.usage = append(h.usage, report)
	return nil
}

func (h *recordingHook) AfterToolCall(_ context.Context, _ *models.Session, record *models.ToolCallRecord) error {
	h.records = append(h.records, record)
	return nil
}

type budgetHook struct {
	BaseHook
	decision *BudgetDecision
	err      error
}

func (h *budgetHook) CheckBudget(context.Context, *models.Session) (*BudgetDecision, error) {
	return h.decision, h.err
}

type failingHook struct {
	BaseHook
}

func (failingHook) OnSessionStart(context.Context, *models.Session) error {
	return errors.New("hook exploded")
}

func TestHookChain_FailOpen(t *testing.T) {
	chain := NewHookChain(nil)
	rec := &recordingHook{}
	chain.Add(failingHook{})
	chain.Add(rec)

	// The failing hook must not stop the chain.
	chain.OnSessionStart(context.Background(), &models.Session{ID: "s1"})
	if rec.starts != 1 {
		t.Errorf("starts = %d, want 1", rec.starts)
	}
}

func TestHookChain_CheckBudget(t *testing.T) {
	sess := &models.Session{ID: "s1"}

	// No hooks: unlimited.
	chain := NewHookChain(nil)
	if d := chain.CheckBudget(context.Background(), sess); !d.Allowed {
		t.Fatal("empty chain denied")
	}

	// Denial wins over later allows.
	chain = NewHookChain(nil)
	chain.Add(&budgetHook{decision: &BudgetDecision{Allowed: false, Reason: "daily cap"}})
	chain.Add(&budgetHook{decision: &BudgetDecision{Allowed: true, RemainingUSD: 100}})
	d := chain.CheckBudget(context.Background(), sess)
	if d.Allowed {
		t.Fatal("denial ignored")
	}
	if d.Reason != "daily cap" {
		t.Errorf("reason = %q", d.Reason)
	}

	// Tightest remaining budget is reported.
	chain = NewHookChain(nil)
	chain.Add(&budgetHook{decision: &BudgetDecision{Allowed: true, RemainingUSD: 100}})
	chain.Add(&budgetHook{decision: &BudgetDecision{Allowed: true, RemainingUSD: 2}})
	d = chain.CheckBudget(context.Background(), sess)
	if !d.Allowed || d.RemainingUSD != 2 {
		t.Errorf("decision = %+v, want allowed with 2 remaining", d)
	}

	// A hook error is fail-open.
	chain = NewHookChain(nil)
	chain.Add(&budgetHook{err: errors.New("ledger unavailable")})
	if d := chain.CheckBudget(context.Background(), sess); !d.Allowed {
		t.Error("hook error caused denial")
	}
}

type rewriteToolHook struct {
	BaseHook
	rewrite json.RawMessage
	deny    bool
}

func (h *rewriteToolHook) BeforeToolCall(_ context.Context, _ *models.Session, _, _ string, _ json.RawMessage) (*ToolDecision, error) {
	if h.deny {
		return &ToolDecision{Allowed: false, Reason: "policy"}, nil
	}
	return &ToolDecision{Allowed: true, ModifiedInput: h.rewrite}, nil
}

func TestHookChain_BeforeToolCall(t *testing.T) {
	sess := &models.Session{ID: "s1"}
	input := json.RawMessage(`{"a":1}`)

	chain := NewHookChain(nil)
	d := chain.BeforeToolCall(context.Background(), sess, "echo", "c1", input)
	if !d.Allowed || string(d.ModifiedInput) != `{"a":1}` {
		t.Fatalf("decision = %+v", d)
	}

	chain = NewHookChain(nil)
	chain.Add(&rewriteToolHook{rewrite: json.RawMessage(`{"a":2}`)})
	d = chain.BeforeToolCall(context.Background(), sess, "echo", "c1", input)
	if string(d.ModifiedInput) != `{"a":2}` {
		t.Errorf("modified input = %s", d.ModifiedInput)
	}

	chain = NewHookChain(nil)
	chain.Add(&rewriteToolHook{deny: true})
	d = chain.BeforeToolCall(context.Background(), sess, "echo", "c1", input)
	if d.Allowed {
		t.Error("denial ignored")
	}
}

type transcriptHook struct {
	BaseHook
	prepend string
}

func (h *transcriptHook) BeforeLLMCall(_ context.Context, _ *models.Session, messages []*models.Message) ([]*models.Message, error) {
	out := append([]*models.Message{models.NewTextMessage(models.RoleSystem, h.prepend)}, messages...)
	return out, nil
}

func TestHookChain_BeforeLLMCall(t *testing.T) {
	chain := NewHookChain(nil)
	chain.Add(&transcriptHook{prepend: "be terse"})

	in := []*models.Message{models.NewTextMessage(models.RoleUser, "hi")}
	out := chain.BeforeLLMCall(context.Background(), &models.Session{ID: "s1"}, in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Text() != "be terse" {
		t.Errorf("prepended = %q", out[0].Text())
	}
}
