package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agenticmail/agenticmail/internal/observability"
)

const (
	// DefaultToolTimeout bounds one tool execution.
	DefaultToolTimeout = 30 * time.Second

	// maxToolResultBytes is the provider-safe cap on tool result
	// content fed back to the model.
	maxToolResultBytes = 50 * 1024

	truncationMarker = "\n[... truncated ...]"
)

// ToolExecutor runs tools with a timeout, input validation, and panic
// recovery. It never returns an error to the caller: every failure is
// converted into an unsuccessful ToolResult.
type ToolExecutor struct {
	registry *ToolRegistry
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewToolExecutor creates an executor over the given registry.
func NewToolExecutor(registry *ToolRegistry, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *ToolExecutor {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = observability.Discard()
	}
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return &ToolExecutor{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Execution reports one tool run for records and events.
type Execution struct {
	CallID   string
	ToolName string
	Input    json.RawMessage
	Result   *ToolResult
	// Content is Result.Content truncated for the model.
	Content  string
	Kind     Kind
	Started  time.Time
	Finished time.Time
}

// Duration is the wall time of the execution.
func (e *Execution) Duration() time.Duration { return e.Finished.Sub(e.Started) }

// Execute runs one tool call. The ctx should derive from the session's
// cancellation token; the executor adds its own timeout on top.
func (x *ToolExecutor) Execute(ctx context.Context, callID, name string, input json.RawMessage) *Execution {
	ctx, span := x.tracer.Start(ctx, "tool.execute",
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", callID),
	)
	defer span.End()

	exec := &Execution{
		CallID:   callID,
		ToolName: name,
		Input:    input,
		Started:  time.Now(),
	}
	defer func() {
		exec.Finished = time.Now()
		exec.Content = truncateContent(resultContent(exec.Result))
		if !exec.Result.Success {
			observability.RecordError(span, errors.New(exec.Result.Error))
		}
		if x.metrics != nil {
			status := "success"
			if !exec.Result.Success {
				status = "error"
			}
			x.metrics.RecordToolExecution(name, status, exec.Duration().Seconds())
		}
	}()

	tool, ok := x.registry.Get(name)
	if !ok {
		exec.Result = &ToolResult{Success: false, Error: fmt.Sprintf("Unknown tool: %s", name)}
		exec.Kind = KindNotFound
		return exec
	}

	if err := x.registry.ValidateInput(name, input); err != nil {
		exec.Result = &ToolResult{Success: false, Error: err.Error()}
		exec.Kind = KindInvalidArgument
		return exec
	}

	execCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	result, err := x.run(execCtx, tool, callID, input)
	switch {
	case err == nil && result != nil:
		exec.Result = result
		if !result.Success {
			exec.Kind = KindToolFailed
		}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded):
		exec.Result = &ToolResult{Success: false, Error: fmt.Sprintf("tool %s timed out after %s", name, x.timeout)}
		exec.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		exec.Result = &ToolResult{Success: false, Error: "tool execution cancelled"}
		exec.Kind = KindCancelled
	case err != nil:
		exec.Result = &ToolResult{Success: false, Error: err.Error()}
		exec.Kind = KindToolFailed
	default:
		exec.Result = &ToolResult{Success: false, Error: "tool returned no result"}
		exec.Kind = KindToolFailed
	}
	return exec
}

// run invokes the tool in its own goroutine so a hung tool cannot
// outlive the timeout, and converts panics into errors.
func (x *ToolExecutor) run(ctx context.Context, tool Tool, callID string, input json.RawMessage) (*ToolResult, error) {
	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				x.logger.Error(ctx, "tool panicked",
					"tool", tool.Name(),
					"call_id", callID,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", tool.Name(), r)}
			}
		}()
		result, err := tool.Execute(ctx, callID, input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

func resultContent(result *ToolResult) string {
	if result == nil {
		return ""
	}
	if result.Success {
		return result.Content
	}
	if result.Error != "" {
		return result.Error
	}
	return result.Content
}

func truncateContent(s string) string {
	if len(s) <= maxToolResultBytes {
		return s
	}
	return s[:maxToolResultBytes] + truncationMarker
}
