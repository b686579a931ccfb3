// Package models defines the data entities shared across the AgenticMail
// runtime: sessions, messages and their content blocks, tool call records,
// follow-ups, sub-agent links, usage counters, and session events.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates the content block union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// KnownBlockType reports whether t is a block type this version understands.
// Unknown types read from a store are dropped with a logged warning rather
// than failing the load.
func KnownBlockType(t BlockType) bool {
	switch t {
	case BlockText, BlockThinking, BlockToolUse, BlockToolResult:
		return true
	}
	return false
}

// Block is one element of a message's content. Exactly one of the
// type-specific field groups is populated, selected by Type.
type Block struct {
	Type BlockType `json:"type"`

	// Text carries the body for text and thinking blocks.
	Text string `json:"text,omitempty"`

	// tool_use fields. ID is the provider-assigned call id; Input is the
	// raw JSON arguments.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result fields. ToolUseID references the tool_use block this
	// result answers.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ThinkingBlock builds a thinking block.
func ThinkingBlock(text string) Block {
	return Block{Type: BlockThinking, Text: text}
}

// ToolUseBlock builds a tool_use block.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result block answering the given tool_use id.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one entry in a session dialogue.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   []Block   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTextMessage builds a message whose content is a single text block.
func NewTextMessage(role Role, text string) *Message {
	return &Message{
		Role:      role,
		Content:   []Block{TextBlock(text)},
		CreatedAt: time.Now(),
	}
}

// Text returns the concatenated bodies of the message's text blocks.
// Thinking, tool_use, and tool_result blocks do not contribute.
func (m *Message) Text() string {
	var b strings.Builder
	for _, blk := range m.Content {
		if blk.Type == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// ToolUses returns the tool_use blocks in content order.
func (m *Message) ToolUses() []Block {
	var uses []Block
	for _, blk := range m.Content {
		if blk.Type == BlockToolUse {
			uses = append(uses, blk)
		}
	}
	return uses
}

// ToolResults returns the tool_result blocks in content order.
func (m *Message) ToolResults() []Block {
	var results []Block
	for _, blk := range m.Content {
		if blk.Type == BlockToolResult {
			results = append(results, blk)
		}
	}
	return results
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Content = make([]Block, len(m.Content))
	copy(clone.Content, m.Content)
	for i := range clone.Content {
		if len(m.Content[i].Input) > 0 {
			clone.Content[i].Input = append(json.RawMessage(nil), m.Content[i].Input...)
		}
	}
	return &clone
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
