package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RiskLevel grades how dangerous a tool is for policy hooks.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Tool is an externally supplied operation the model can invoke.
type Tool interface {
	// Name is the unique identifier within a session.
	Name() string
	// Label is the human-readable name.
	Label() string
	// Category groups related tools.
	Category() string
	// Risk grades the tool for policy decisions.
	Risk() RiskLevel
	// Parameters is the JSON schema for the tool's input.
	Parameters() json.RawMessage
	// Execute runs the tool. Implementations must observe ctx.
	Execute(ctx context.Context, callID string, input json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool execution outcome.
type ToolResult struct {
	Success bool
	// Content is the text fed back to the model.
	Content string
	// Metadata is optional structured output for hooks and records.
	Metadata map[string]any
	// Error describes the failure when Success is false.
	Error string
}

// ToolRegistry holds a session's tools with their compiled input
// schemas. Built once per session from the agent config.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its parameter schema. A tool whose
// schema does not compile is rejected rather than silently accepted
// with unvalidated input. Re-registering a name replaces the tool.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return NewError(KindInvalidArgument, "tool name is empty")
	}

	var compiled *jsonschema.Schema
	if params := tool.Parameters(); len(params) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "inmemory://tools/" + name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(params)); err != nil {
			return NewError(KindInvalidArgument, fmt.Sprintf("tool %s: invalid schema", name)).WithCause(err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return NewError(KindInvalidArgument, fmt.Sprintf("tool %s: schema does not compile", name)).WithCause(err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
	return nil
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ValidateInput checks input against the tool's compiled schema.
// Tools without a schema accept anything.
func (r *ToolRegistry) ValidateInput(name string, input json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	var value any
	if len(input) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(input, &value); err != nil {
		return NewError(KindInvalidArgument, "tool input is not valid JSON").WithCause(err)
	}
	if err := schema.Validate(value); err != nil {
		return NewError(KindInvalidArgument, fmt.Sprintf("tool input rejected by schema: %v", err)).WithCause(err)
	}
	return nil
}
