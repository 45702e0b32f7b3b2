package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool to the LLM prompt and to API clients.
// Parameters is a JSON Schema object; it is empty for schema-less tools,
// which receive their argument as a single JSON string.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// HasParameters reports whether the schema declares structured parameters.
func (s ToolSchema) HasParameters() bool {
	return len(s.Parameters) > 0 && string(s.Parameters) != "null"
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Tool is the interface every tool must implement. Built-in tools, MCP tools
// and test stubs all conform to it; callers never inspect a tool's concrete type.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolSource tells where a tool came from.
type ToolSource string

const (
	ToolSourceBuiltin ToolSource = "builtin"
	ToolSourceMCP     ToolSource = "mcp"
)

// SourcedTool is implemented by tools that are registered from an external
// tool provider. The extractor recognizes their names without the marker prefix.
type SourcedTool interface {
	Tool
	Source() ToolSource
}

// SourceOf returns the tool's source, defaulting to builtin.
func SourceOf(t Tool) ToolSource {
	if st, ok := t.(SourcedTool); ok {
		return st.Source()
	}
	return ToolSourceBuiltin
}

// ToolInfo is the metadata an external tool provider reports per tool.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Server      string          `json:"server,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolProvider is an external collaborator exposing a dynamic tool set.
type ToolProvider interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	Invoke(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error)
}
