// Package llm defines the provider-agnostic streaming model client and
// its Anthropic and OpenAI adapters. Provider wire formats never leak
// past this package; the rest of the runtime sees only typed deltas.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/agenticmail/agenticmail/pkg/models"
)

// ModelClient issues a streaming inference call.
type ModelClient interface {
	// Call starts a stream for the given request. Errors returned here
	// are call-setup failures; mid-stream failures surface via Stream.Err.
	Call(ctx context.Context, req Request) (Stream, error)

	// Provider names the backing provider, for logging and metrics.
	Provider() string
}

// Request is the canonical inference request. System-role messages are
// translated by each adapter into the provider's system representation.
type Request struct {
	Model     string
	Messages  []*models.Message
	Tools     []ToolDef
	MaxTokens int

	// Thinking enables extended reasoning where the provider supports it.
	Thinking             bool
	ThinkingBudgetTokens int
}

// ToolDef describes a tool to the model.
type ToolDef struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// DeltaType discriminates stream deltas.
type DeltaType string

const (
	DeltaText         DeltaType = "text_delta"
	DeltaThinking     DeltaType = "thinking_delta"
	DeltaToolUseStart DeltaType = "tool_use_start"
	DeltaToolUseInput DeltaType = "tool_use_input_delta"
	DeltaToolUseEnd   DeltaType = "tool_use_end"
	DeltaUsage        DeltaType = "usage"
	DeltaStop         DeltaType = "stop"
)

// Delta is one element of the model output stream. Fields beyond Type
// are populated per delta kind.
type Delta struct {
	Type DeltaType

	// Text carries text_delta and thinking_delta content.
	Text string

	// Tool call fields.
	ToolID      string
	ToolName    string
	PartialJSON string          // tool_use_input_delta
	FinalInput  json.RawMessage // tool_use_end

	// Usage fields.
	InputTokens  int
	OutputTokens int

	// Stop carries the stop delta's reason.
	Stop models.StopReason
}

// Stream yields deltas until the model stops or the stream fails.
// Callers must Close it.
type Stream interface {
	Next() bool
	Current() Delta
	Err() error
	Close() error
}

// SliceStream is a pre-scripted Stream for tests and replay.
type SliceStream struct {
	deltas []Delta
	pos    int
	err    error
}

// NewSliceStream returns a Stream that yields the given deltas, then
// finishes with err (nil for a clean end).
func NewSliceStream(deltas []Delta, err error) *SliceStream {
	return &SliceStream{deltas: deltas, err: err}
}

func (s *SliceStream) Next() bool {
	if s.pos >= len(s.deltas) {
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Current() Delta { return s.deltas[s.pos-1] }
func (s *SliceStream) Err() error {
	if s.pos >= len(s.deltas) {
		return s.err
	}
	return nil
}
func (s *SliceStream) Close() error { return nil }

// Transient reports whether err is worth retrying: rate limits, 5xx,
// timeouts, and connection failures. Auth and validation errors are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var anthErr *anthropic.Error
	if errors.As(err, &anthErr) {
		return transientStatus(anthErr.StatusCode)
	}
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return transientStatus(oaiErr.HTTPStatusCode)
	}

	// Fallback string classification for transport-level failures that
	// reach us unwrapped.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func transientStatus(status int) bool {
	return status == 429 || status >= 500
}
