package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, timeout time.Duration, tools ...Tool) *ToolExecutor {
	t.Helper()
	reg := NewToolRegistry()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	return NewToolExecutor(reg, timeout, nil, nil, nil)
}

func TestExecutor_Success(t *testing.T) {
	x := newTestExecutor(t, time.Second, echoTool())

	exec := x.Execute(context.Background(), "c1", "echo", json.RawMessage(`{"text":"hello"}`))
	if !exec.Result.Success {
		t.Fatalf("result = %+v, want success", exec.Result)
	}
	if exec.Content != "hello" {
		t.Errorf("content = %q, want %q", exec.Content, "hello")
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	x := newTestExecutor(t, time.Second)

	exec := x.Execute(context.Background(), "c1", "nonexistent", nil)
	if exec.Result.Success {
		t.Fatal("unknown tool reported success")
	}
	if exec.Content != "Unknown tool: nonexistent" {
		t.Errorf("content = %q", exec.Content)
	}
	if exec.Kind != KindNotFound {
		t.Errorf("kind = %s, want %s", exec.Kind, KindNotFound)
	}
}

func TestExecutor_InvalidInput(t *testing.T) {
	x := newTestExecutor(t, time.Second, echoTool())

	exec := x.Execute(context.Background(), "c1", "echo", json.RawMessage(`{}`))
	if exec.Result.Success {
		t.Fatal("schema-invalid input reported success")
	}
	if exec.Kind != KindInvalidArgument {
		t.Errorf("kind = %s, want %s", exec.Kind, KindInvalidArgument)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	slow := &mockTool{
		name: "slow",
		fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return &ToolResult{Success: true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	x := newTestExecutor(t, 50*time.Millisecond, slow)

	start := time.Now()
	exec := x.Execute(context.Background(), "c1", "slow", nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("execute took %s, timeout not enforced", elapsed)
	}
	if exec.Result.Success {
		t.Fatal("timed-out tool reported success")
	}
	if exec.Kind != KindTimeout {
		t.Errorf("kind = %s, want %s", exec.Kind, KindTimeout)
	}
	if !strings.Contains(exec.Content, "timed out") {
		t.Errorf("content = %q, want timeout message", exec.Content)
	}
}

func TestExecutor_PanicRecovery(t *testing.T) {
	angry := &mockTool{
		name: "angry",
		fn: func(context.Context, json.RawMessage) (*ToolResult, error) {
			panic("boom")
		},
	}
	x := newTestExecutor(t, time.Second, angry)

	exec := x.Execute(context.Background(), "c1", "angry", nil)
	if exec.Result.Success {
		t.Fatal("panicking tool reported success")
	}
	if !strings.Contains(exec.Content, "panicked") {
		t.Errorf("content = %q, want panic message", exec.Content)
	}
}

func TestExecutor_Cancellation(t *testing.T) {
	blocked := &mockTool{
		name: "blocked",
		fn: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	x := newTestExecutor(t, time.Minute, blocked)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec := x.Execute(ctx, "c1", "blocked", nil)
	if exec.Kind != KindCancelled {
		t.Errorf("kind = %s, want %s", exec.Kind, KindCancelled)
	}
}

func TestExecutor_TruncatesLargeResults(t *testing.T) {
	big := &mockTool{
		name: "big",
		fn: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Success: true, Content: strings.Repeat("x", maxToolResultBytes+100)}, nil
		},
	}
	x := newTestExecutor(t, time.Second, big)

	exec := x.Execute(context.Background(), "c1", "big", nil)
	if len(exec.Content) != maxToolResultBytes+len(truncationMarker) {
		t.Errorf("content length = %d, want %d", len(exec.Content), maxToolResultBytes+len(truncationMarker))
	}
	if !strings.HasSuffix(exec.Content, truncationMarker) {
		t.Error("truncated content missing marker")
	}
	// The full result is preserved on the execution for records.
	if len(exec.Result.Content) != maxToolResultBytes+100 {
		t.Errorf("raw result length = %d", len(exec.Result.Content))
	}
}

func TestExecutor_ToolError(t *testing.T) {
	failing := &mockTool{
		name: "failing",
		fn: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Success: false, Error: "disk on fire"}, nil
		},
	}
	x := newTestExecutor(t, time.Second, failing)

	exec := x.Execute(context.Background(), "c1", "failing", nil)
	if exec.Kind != KindToolFailed {
		t.Errorf("kind = %s, want %s", exec.Kind, KindToolFailed)
	}
	if exec.Content != "disk on fire" {
		t.Errorf("content = %q", exec.Content)
	}
}
