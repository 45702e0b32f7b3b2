package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"omni-agent/internal/domain"
)

// stubTool records every payload it receives and answers via fn.
type stubTool struct {
	name   string
	params json.RawMessage
	source domain.ToolSource
	fn     func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)

	calls atomic.Int32
	mu    sync.Mutex
	seen  []string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Description: s.Description(), Parameters: s.params}
}

func (s *stubTool) Source() domain.ToolSource {
	if s.source == "" {
		return domain.ToolSourceBuiltin
	}
	return s.source
}

func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, string(params))
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, params)
	}
	return &domain.ToolResult{Content: "ok"}, nil
}

func fixed(content string) func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	return func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: content}, nil
	}
}

func failing(msg string) func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
	return func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		return nil, errors.New(msg)
	}
}
