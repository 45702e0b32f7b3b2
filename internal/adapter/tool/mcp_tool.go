package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"omni-agent/internal/domain"
)

// mcpTool exposes one server-declared tool under its own name.
type mcpTool struct {
	server  string
	def     mcp.Tool
	gen     *generation
	timeout time.Duration
	logger  *slog.Logger
}

func newMCPTool(server string, def mcp.Tool, gen *generation, timeout time.Duration, logger *slog.Logger) *mcpTool {
	return &mcpTool{server: server, def: def, gen: gen, timeout: timeout, logger: logger}
}

func (t *mcpTool) Name() string              { return t.def.Name }
func (t *mcpTool) Source() domain.ToolSource { return domain.ToolSourceMCP }
func (t *mcpTool) Server() string            { return t.server }

func (t *mcpTool) Description() string {
	if t.def.Description == "" {
		return fmt.Sprintf("MCP tool %q from server %q", t.def.Name, t.server)
	}
	return t.def.Description
}

func (t *mcpTool) Schema() domain.ToolSchema {
	params := json.RawMessage(`{"type": "object"}`)
	if t.def.InputSchema.Properties != nil || t.def.InputSchema.Required != nil {
		if data, err := json.Marshal(t.def.InputSchema); err == nil {
			params = data
		}
	}
	return domain.ToolSchema{Name: t.def.Name, Description: t.Description(), Parameters: params}
}

func (t *mcpTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var args map[string]any
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			return ErrResult("invalid arguments: %v", err)
		}
	}

	if !t.gen.acquire() {
		return nil, domain.NewDomainError("mcp.call", domain.ErrMCPClosed, t.def.Name)
	}
	defer t.gen.release()

	client, ok := t.gen.clients[t.server]
	if !ok {
		return nil, domain.NewDomainError("mcp.call", domain.ErrMCPClosed, t.server)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.def.Name
	req.Params.Arguments = args

	t.logger.Debug("mcp tool call", "server", t.server, "tool", t.def.Name)

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result, err := client.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, domain.NewDomainError("mcp.call", domain.ErrTimeout, t.def.Name)
		}
		return nil, domain.NewDomainError("mcp.call", domain.ErrToolFailure, err.Error())
	}

	return &domain.ToolResult{Content: extractMCPContent(result), IsError: result.IsError}, nil
}

// extractMCPContent joins text parts; other content kinds are rendered as JSON.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// serverOf unwraps decorators to find the MCP server a tool belongs to.
func serverOf(t domain.Tool) (string, bool) {
	for t != nil {
		if m, ok := t.(*mcpTool); ok {
			return m.server, true
		}
		u, ok := t.(interface{ Unwrap() domain.Tool })
		if !ok {
			return "", false
		}
		t = u.Unwrap()
	}
	return "", false
}
