package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agenticmail/agenticmail/pkg/models"
)

// Anthropic is the ModelClient adapter for the Anthropic Messages API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
	// DefaultModel is used when a request omits the model.
	DefaultModel string
}

// NewAnthropic creates the adapter.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-5"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Anthropic{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (a *Anthropic) Provider() string { return "anthropic" }

func (a *Anthropic) Call(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	system, messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.Thinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return &anthropicStream{inner: a.client.Messages.NewStreaming(ctx, params)}, nil
}

// convertAnthropicMessages splits system-role messages out into system
// blocks and converts the rest to the wire shape. Thinking blocks are
// not resent; the API rejects them without their original signatures.
func convertAnthropicMessages(msgs []*models.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam

	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			if text := msg.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Type: "text", Text: text})
			}
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case models.BlockToolUse:
				var input map[string]any
				if len(block.Input) > 0 {
					if err := json.Unmarshal(block.Input, &input); err != nil {
						return nil, nil, fmt.Errorf("invalid tool_use input for %s: %w", block.ID, err)
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			case models.BlockThinking:
				// dropped on resend
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return system, out, nil
}

func convertAnthropicTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}

// maxEmptyStreamEvents bounds consecutive events that produce no delta,
// protecting against malformed streams that flood empty events.
const maxEmptyStreamEvents = 300

// anthropicStream translates SSE events into canonical deltas. One SSE
// event may produce several deltas, so they pass through a queue.
type anthropicStream struct {
	inner *ssestream.Stream[anthropic.MessageStreamEventUnion]

	queue []Delta
	cur   Delta
	err   error
	done  bool

	toolID     string
	toolName   string
	inputJSON  strings.Builder
	inThinking bool

	inputTokens  int
	outputTokens int
	stopReason   models.StopReason
	emptyEvents  int
}

func (s *anthropicStream) Next() bool {
	for {
		if len(s.queue) > 0 {
			s.cur = s.queue[0]
			s.queue = s.queue[1:]
			return true
		}
		if s.done {
			return false
		}
		if !s.inner.Next() {
			s.done = true
			if err := s.inner.Err(); err != nil {
				s.err = err
				return false
			}
			// Stream ended without message_stop; finish with what we have.
			s.finish()
			continue
		}
		s.consume(s.inner.Current())
	}
}

func (s *anthropicStream) consume(event anthropic.MessageStreamEventUnion) {
	produced := true

	switch event.Type {
	case "message_start":
		start := event.AsMessageStart()
		if start.Message.Usage.InputTokens > 0 {
			s.inputTokens = int(start.Message.Usage.InputTokens)
		}

	case "content_block_start":
		block := event.AsContentBlockStart().ContentBlock
		switch block.Type {
		case "thinking":
			s.inThinking = true
		case "tool_use":
			use := block.AsToolUse()
			s.toolID = use.ID
			s.toolName = use.Name
			s.inputJSON.Reset()
			s.queue = append(s.queue, Delta{Type: DeltaToolUseStart, ToolID: use.ID, ToolName: use.Name})
		default:
			produced = false
		}

	case "content_block_delta":
		delta := event.AsContentBlockDelta().Delta
		switch delta.Type {
		case "text_delta":
			if delta.Text == "" {
				produced = false
				break
			}
			s.queue = append(s.queue, Delta{Type: DeltaText, Text: delta.Text})
		case "thinking_delta":
			if delta.Thinking == "" {
				produced = false
				break
			}
			s.queue = append(s.queue, Delta{Type: DeltaThinking, Text: delta.Thinking})
		case "input_json_delta":
			if delta.PartialJSON == "" {
				produced = false
				break
			}
			s.inputJSON.WriteString(delta.PartialJSON)
			s.queue = append(s.queue, Delta{
				Type:        DeltaToolUseInput,
				ToolID:      s.toolID,
				PartialJSON: delta.PartialJSON,
			})
		default:
			produced = false
		}

	case "content_block_stop":
		switch {
		case s.inThinking:
			s.inThinking = false
			produced = false
		case s.toolID != "":
			final := s.inputJSON.String()
			if final == "" {
				final = "{}"
			}
			s.queue = append(s.queue, Delta{
				Type:       DeltaToolUseEnd,
				ToolID:     s.toolID,
				ToolName:   s.toolName,
				FinalInput: json.RawMessage(final),
			})
			s.toolID = ""
			s.toolName = ""
		default:
			produced = false
		}

	case "message_delta":
		delta := event.AsMessageDelta()
		if delta.Usage.OutputTokens > 0 {
			s.outputTokens = int(delta.Usage.OutputTokens)
		}
		s.stopReason = mapAnthropicStop(string(delta.Delta.StopReason))

	case "message_stop":
		s.finish()
		s.done = true

	case "error":
		s.err = errors.New("anthropic: stream error event")
		s.done = true

	default:
		produced = false
	}

	if produced {
		s.emptyEvents = 0
	} else {
		s.emptyEvents++
		if s.emptyEvents >= maxEmptyStreamEvents {
			s.err = fmt.Errorf("anthropic: malformed stream: %d consecutive empty events", s.emptyEvents)
			s.done = true
		}
	}
}

func (s *anthropicStream) finish() {
	s.queue = append(s.queue,
		Delta{Type: DeltaUsage, InputTokens: s.inputTokens, OutputTokens: s.outputTokens},
		Delta{Type: DeltaStop, Stop: s.stopOrDefault()},
	)
}

func (s *anthropicStream) stopOrDefault() models.StopReason {
	if s.stopReason != "" {
		return s.stopReason
	}
	return models.StopEndTurn
}

func (s *anthropicStream) Current() Delta { return s.cur }
func (s *anthropicStream) Err() error     { return s.err }
func (s *anthropicStream) Close() error   { return s.inner.Close() }

func mapAnthropicStop(reason string) models.StopReason {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return models.StopEndTurn
	case "tool_use":
		return models.StopToolUse
	case "max_tokens":
		return models.StopMaxTokens
	case "refusal":
		return models.StopContentFilter
	case "":
		return ""
	default:
		return models.StopEndTurn
	}
}
