package models

import (
	"encoding/json"
	"testing"
)

func TestMessage_Text(t *testing.T) {
	msg := &Message{
		Role: RoleAssistant,
		Content: []Block{
			ThinkingBlock("let me think"),
			TextBlock("Hello, "),
			ToolUseBlock("t1", "echo", json.RawMessage(`{}`)),
			TextBlock("world"),
		},
	}
	if got := msg.Text(); got != "Hello, world" {
		t.Errorf("Text() = %q, want %q", got, "Hello, world")
	}
}

func TestMessage_ToolUsesOrder(t *testing.T) {
	msg := &Message{
		Role: RoleAssistant,
		Content: []Block{
			ToolUseBlock("t1", "first", nil),
			TextBlock("between"),
			ToolUseBlock("t2", "second", nil),
		},
	}
	uses := msg.ToolUses()
	if len(uses) != 2 {
		t.Fatalf("len(uses) = %d, want 2", len(uses))
	}
	if uses[0].ID != "t1" || uses[1].ID != "t2" {
		t.Errorf("tool_use order = [%s %s], want [t1 t2]", uses[0].ID, uses[1].ID)
	}
}

func TestMessage_Clone_Independent(t *testing.T) {
	orig := &Message{
		Role:    RoleUser,
		Content: []Block{ToolUseBlock("t1", "echo", json.RawMessage(`{"text":"a"}`))},
	}
	clone := orig.Clone()
	clone.Content[0].Input = json.RawMessage(`{"text":"b"}`)
	clone.Content = append(clone.Content, TextBlock("extra"))

	if string(orig.Content[0].Input) != `{"text":"a"}` {
		t.Errorf("clone mutation leaked into original input: %s", orig.Content[0].Input)
	}
	if len(orig.Content) != 1 {
		t.Errorf("clone append leaked into original content: len = %d", len(orig.Content))
	}
}

func TestKnownBlockType(t *testing.T) {
	for _, bt := range []BlockType{BlockText, BlockThinking, BlockToolUse, BlockToolResult} {
		if !KnownBlockType(bt) {
			t.Errorf("KnownBlockType(%q) = false, want true", bt)
		}
	}
	if KnownBlockType("citation") {
		t.Error("KnownBlockType(citation) = true, want false")
	}
}

func TestSessionStatus_Terminal(t *testing.T) {
	tests := []struct {
		status SessionStatus
		want   bool
	}{
		{StatusActive, false},
		{StatusPaused, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusStale, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestUsageDay_UTC(t *testing.T) {
	msg := NewTextMessage(RoleUser, "hi")
	if got := UsageDay(msg.CreatedAt); len(got) != 10 {
		t.Errorf("UsageDay() = %q, want YYYY-MM-DD", got)
	}
}
