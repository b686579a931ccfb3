package llm

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agenticmail/agenticmail/pkg/models"
)

func TestConvertOpenAIMessages_RolesAndTools(t *testing.T) {
	msgs := []*models.Message{
		models.NewTextMessage(models.RoleSystem, "You answer briefly."),
		models.NewTextMessage(models.RoleUser, "Use echo with 'ok'."),
		{
			Role: models.RoleAssistant,
			Content: []models.Block{
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

	converted, err := convertOpenAIMessages(msgs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(converted) != 4 {
		t.Fatalf("len = %d, want 4", len(converted))
	}
	if converted[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("role[0] = %s", converted[0].Role)
	}
	if len(converted[2].ToolCalls) != 1 || converted[2].ToolCalls[0].ID != "t1" {
		t.Errorf("assistant tool calls = %+v", converted[2].ToolCalls)
	}
	if converted[2].ToolCalls[0].Function.Arguments != `{"text":"ok"}` {
		t.Errorf("arguments = %q", converted[2].ToolCalls[0].Function.Arguments)
	}
	if converted[3].Role != openai.ChatMessageRoleTool || converted[3].ToolCallID != "t1" {
		t.Errorf("tool result message = %+v", converted[3])
	}
}

func TestConvertOpenAIMessages_MixedUserContent(t *testing.T) {
	// A user message carrying both tool results and text splits into a
	// tool message followed by a user message.
	msgs := []*models.Message{
		{
			Role: models.RoleUser,
			Content: []models.Block{
				models.ToolResultBlock("t1", "result body", true),
				models.TextBlock("also, a new question"),
			},
		},
	}

	converted, err := convertOpenAIMessages(msgs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(converted) != 2 {
		t.Fatalf("len = %d, want 2", len(converted))
	}
	if converted[0].Role != openai.ChatMessageRoleTool {
		t.Errorf("first = %s, want tool", converted[0].Role)
	}
	if converted[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("second = %s, want user", converted[1].Role)
	}
}

func TestMapOpenAIStop(t *testing.T) {
	tests := []struct {
		in   string
		want models.StopReason
	}{
		{"stop", models.StopEndTurn},
		{"tool_calls", models.StopToolUse},
		{"function_call", models.StopToolUse},
		{"length", models.StopMaxTokens},
		{"content_filter", models.StopContentFilter},
		{"unknown", models.StopEndTurn},
	}
	for _, tt := range tests {
		if got := mapOpenAIStop(tt.in); got != tt.want {
			t.Errorf("mapOpenAIStop(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
