package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/agenticmail/agenticmail/internal/llm"
	"github.com/agenticmail/agenticmail/pkg/models"
)

// scriptedClient plays back pre-built delta scripts, one per call.
// Calls beyond the script end with a bare end_turn.
type scriptedClient struct {
	mu       sync.Mutex
	scripts  [][]llm.Delta
	errs     []error
	calls    int
	requests []llm.Request
}

func (c *scriptedClient) Provider() string { return "scripted" }

func (c *scriptedClient) Call(_ context.Context, req llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	i := c.calls
	c.calls++
	if i >= len(c.scripts) {
		return llm.NewSliceStream([]llm.Delta{{Type: llm.DeltaStop, Stop: models.StopEndTurn}}, nil), nil
	}
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	return llm.NewSliceStream(c.scripts[i], err), nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptedClient) request(i int) llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func textTurn(text string, inputTokens, outputTokens int) []llm.Delta {
	return []llm.Delta{
		{Type: llm.DeltaText, Text: text},
		{Type: llm.DeltaUsage, InputTokens: inputTokens, OutputTokens: outputTokens},
		{Type: llm.DeltaStop, Stop: models.StopEndTurn},
	}
}

func toolTurn(callID, name string, input json.RawMessage) []llm.Delta {
	return []llm.Delta{
		{Type: llm.DeltaToolUseStart, ToolID: callID, ToolName: name},
		{Type: llm.DeltaToolUseEnd, ToolID: callID, ToolName: name, FinalInput: input},
		{Type: llm.DeltaUsage, InputTokens: 20, OutputTokens: 10},
		{Type: llm.DeltaStop, Stop: models.StopToolUse},
	}
}

// mockTool is a scriptable Tool.
type mockTool struct {
	name   string
	schema json.RawMessage
	fn     func(ctx context.Context, input json.RawMessage) (*ToolResult, error)
}

func (t *mockTool) Name() string     { return t.name }
func (t *mockTool) Label() string    { return t.name }
func (t *mockTool) Category() string { return "test" }
func (t *mockTool) Risk() RiskLevel  { return RiskLow }
func (t *mockTool) Parameters() json.RawMessage {
	return t.schema
}
func (t *mockTool) Execute(ctx context.Context, _ string, input json.RawMessage) (*ToolResult, error) {
	if t.fn == nil {
		return &ToolResult{Success: true, Content: "ok"}, nil
	}
	return t.fn(ctx, input)
}

func echoTool() *mockTool {
	return &mockTool{
		name:   "echo",
		schema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		fn: func(_ context.Context, input json.RawMessage) (*ToolResult, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			return &ToolResult{Success: true, Content: args.Text}, nil
		},
	}
}
