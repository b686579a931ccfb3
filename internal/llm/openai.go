package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agenticmail/agenticmail/pkg/models"
)

// OpenAI is the ModelClient adapter for the OpenAI chat completions API.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string
	// BaseURL overrides the API endpoint, for proxies and compatible servers.
	BaseURL string
	// DefaultModel is used when a request omits the model.
	DefaultModel string
}

// NewOpenAI creates the adapter.
func NewOpenAI(config OpenAIConfig) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
	}, nil
}

func (o *OpenAI) Provider() string { return "openai" }

func (o *OpenAI) Call(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	messages, err := convertOpenAIMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	return &openaiStream{inner: stream}, nil
}

// convertOpenAIMessages maps the canonical message model onto the chat
// completions shape: tool_use blocks become assistant tool_calls and
// each tool_result block becomes its own tool-role message.
func convertOpenAIMessages(msgs []*models.Message) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage

	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Text(),
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, use := range msg.ToolUses() {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   use.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      use.Name,
						Arguments: string(use.Input),
					},
				})
			}
			if oaiMsg.Content == "" && len(oaiMsg.ToolCalls) == 0 {
				continue
			}
			out = append(out, oaiMsg)

		default:
			results := msg.ToolResults()
			for _, res := range results {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    res.Content,
					ToolCallID: res.ToolUseID,
				})
			}
			if text := msg.Text(); text != "" {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				})
			} else if len(results) == 0 {
				return nil, fmt.Errorf("empty user message %s", msg.ID)
			}
		}
	}
	return out, nil
}

func convertOpenAITools(tools []ToolDef) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}
	return out
}

// openaiStream translates chat completion chunks into canonical deltas.
// Tool call arguments stream in fragments keyed by index; calls are
// finalized when the finish reason arrives.
type openaiStream struct {
	inner *openai.ChatCompletionStream

	queue []Delta
	cur   Delta
	err   error
	done  bool

	// In-flight tool calls by stream index, finalized in index order.
	toolOrder []int
	tools     map[int]*pendingToolCall

	inputTokens  int
	outputTokens int
	stopReason   models.StopReason
	stopSeen     bool
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (s *openaiStream) Next() bool {
	for {
		if len(s.queue) > 0 {
			s.cur = s.queue[0]
			s.queue = s.queue[1:]
			return true
		}
		if s.done {
			return false
		}

		response, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.finish()
			continue
		}
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		s.consume(response)
	}
}

func (s *openaiStream) consume(response openai.ChatCompletionStreamResponse) {
	if response.Usage != nil {
		s.inputTokens = response.Usage.PromptTokens
		s.outputTokens = response.Usage.CompletionTokens
	}
	if len(response.Choices) == 0 {
		return
	}
	choice := response.Choices[0]

	if choice.Delta.Content != "" {
		s.queue = append(s.queue, Delta{Type: DeltaText, Text: choice.Delta.Content})
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		pending, ok := s.tools[idx]
		if !ok {
			if s.tools == nil {
				s.tools = make(map[int]*pendingToolCall)
			}
			pending = &pendingToolCall{}
			s.tools[idx] = pending
			s.toolOrder = append(s.toolOrder, idx)
		}
		if tc.ID != "" {
			pending.id = tc.ID
		}
		if tc.Function.Name != "" {
			if pending.name == "" {
				s.queue = append(s.queue, Delta{
					Type:     DeltaToolUseStart,
					ToolID:   pending.id,
					ToolName: tc.Function.Name,
				})
			}
			pending.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			pending.args.WriteString(tc.Function.Arguments)
			s.queue = append(s.queue, Delta{
				Type:        DeltaToolUseInput,
				ToolID:      pending.id,
				PartialJSON: tc.Function.Arguments,
			})
		}
	}

	if choice.FinishReason != "" {
		s.stopSeen = true
		s.stopReason = mapOpenAIStop(string(choice.FinishReason))
		s.flushToolCalls()
	}
}

func (s *openaiStream) flushToolCalls() {
	for _, idx := range s.toolOrder {
		pending := s.tools[idx]
		args := pending.args.String()
		if args == "" {
			args = "{}"
		}
		s.queue = append(s.queue, Delta{
			Type:       DeltaToolUseEnd,
			ToolID:     pending.id,
			ToolName:   pending.name,
			FinalInput: json.RawMessage(args),
		})
	}
	s.toolOrder = nil
	s.tools = nil
}

func (s *openaiStream) finish() {
	s.queue = append(s.queue, Delta{
		Type:         DeltaUsage,
		InputTokens:  s.inputTokens,
		OutputTokens: s.outputTokens,
	})
	stop := s.stopReason
	if !s.stopSeen {
		stop = models.StopEndTurn
	}
	s.queue = append(s.queue, Delta{Type: DeltaStop, Stop: stop})
}

func (s *openaiStream) Current() Delta { return s.cur }
func (s *openaiStream) Err() error     { return s.err }
func (s *openaiStream) Close() error   { return s.inner.Close() }

func mapOpenAIStop(reason string) models.StopReason {
	switch reason {
	case "stop":
		return models.StopEndTurn
	case "tool_calls", "function_call":
		return models.StopToolUse
	case "length":
		return models.StopMaxTokens
	case "content_filter":
		return models.StopContentFilter
	default:
		return models.StopEndTurn
	}
}
