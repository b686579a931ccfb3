package llm

import (
	"encoding/json"
	"testing"

	"github.com/agenticmail/agenticmail/pkg/models"
)

func TestConvertAnthropicMessages_SystemSplit(t *testing.T) {
	msgs := []*models.Message{
		models.NewTextMessage(models.RoleSystem, "You answer briefly."),
		models.NewTextMessage(models.RoleUser, "Say hi."),
		models.NewTextMessage(models.RoleSystem, "Conversation summary: earlier chatter."),
	}

	system, converted, err := convertAnthropicMessages(msgs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(system) != 2 {
		t.Fatalf("len(system) = %d, want 2", len(system))
	}
	if system[0].Text != "You answer briefly." {
		t.Errorf("system[0] = %q", system[0].Text)
	}
	if len(converted) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(converted))
	}
}

func TestConvertAnthropicMessages_ToolRoundTrip(t *testing.T) {
	msgs := []*models.Message{
		{
			Role: models.RoleAssistant,
			Content: []models.Block{
				models.TextBlock("let me check"),
				models.ToolUseBlock("t1", "echo", json.RawMessage(`{"text":"ok"}`)),
			},
		},
		{
			Role: models.RoleUser,
			Content: []models.Block{
				models.ToolResultBlock("t1", "ok", false),
			},
		},
	}

	_, converted, err := convertAnthropicMessages(msgs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(converted) != 2 {
		t.Fatalf("len = %d, want 2", len(converted))
	}
	if string(converted[0].Role) != "assistant" || string(converted[1].Role) != "user" {
		t.Errorf("roles = %s/%s", converted[0].Role, converted[1].Role)
	}
	if len(converted[0].Content) != 2 {
		t.Errorf("assistant blocks = %d, want 2", len(converted[0].Content))
	}
}

func TestConvertAnthropicMessages_DropsThinkingAndEmpty(t *testing.T) {
	msgs := []*models.Message{
		{
			Role:    models.RoleAssistant,
			Content: []models.Block{models.ThinkingBlock("internal reasoning")},
		},
		models.NewTextMessage(models.RoleUser, "hello"),
	}

	_, converted, err := convertAnthropicMessages(msgs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// The thinking-only assistant message must be dropped entirely.
	if len(converted) != 1 {
		t.Fatalf("len = %d, want 1", len(converted))
	}
}

func TestConvertAnthropicMessages_RejectsBadToolInput(t *testing.T) {
	msgs := []*models.Message{
		{
			Role:    models.RoleAssistant,
			Content: []models.Block{models.ToolUseBlock("t1", "echo", json.RawMessage(`{broken`))},
		},
	}
	if _, _, err := convertAnthropicMessages(msgs); err == nil {
		t.Error("expected error for malformed tool input")
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	tools := []ToolDef{{
		Name:        "echo",
		Description: "Echoes text back",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}}

	converted, err := convertAnthropicTools(tools)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(converted) != 1 || converted[0].OfTool == nil {
		t.Fatalf("converted = %+v", converted)
	}
	if converted[0].OfTool.Name != "echo" {
		t.Errorf("name = %q", converted[0].OfTool.Name)
	}

	bad := []ToolDef{{Name: "broken", InputSchema: json.RawMessage(`not json`)}}
	if _, err := convertAnthropicTools(bad); err == nil {
		t.Error("expected error for malformed schema")
	}
}

func TestMapAnthropicStop(t *testing.T) {
	tests := []struct {
		in   string
		want models.StopReason
	}{
		{"end_turn", models.StopEndTurn},
		{"stop_sequence", models.StopEndTurn},
		{"tool_use", models.StopToolUse},
		{"max_tokens", models.StopMaxTokens},
		{"refusal", models.StopContentFilter},
		{"something_new", models.StopEndTurn},
	}
	for _, tt := range tests {
		if got := mapAnthropicStop(tt.in); got != tt.want {
			t.Errorf("mapAnthropicStop(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
