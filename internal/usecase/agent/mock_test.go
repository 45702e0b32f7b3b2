package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"omni-agent/internal/domain"
)

type reply struct {
	content string
	err     error
}

// scriptedLLM answers requests from a queue and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []reply
	requests []domain.ChatRequest
}

func newScripted(replies ...reply) *scriptedLLM { return &scriptedLLM{replies: replies} }

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &domain.ChatResponse{Content: r.content}, nil
}

func (m *scriptedLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedLLM) request(i int) domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

type funcTool struct {
	name   string
	params json.RawMessage
	fn     func(json.RawMessage) (*domain.ToolResult, error)

	mu   sync.Mutex
	seen []string
}

func (f *funcTool) Name() string        { return f.name }
func (f *funcTool) Description() string { return "does " + f.name }
func (f *funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: f.name, Description: f.Description(), Parameters: f.params}
}

func (f *funcTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, string(params))
	f.mu.Unlock()
	return f.fn(params)
}

func constTool(name, content string) *funcTool {
	return &funcTool{name: name, fn: func(json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: content}, nil
	}}
}

func errTool(name string) *funcTool {
	return &funcTool{name: name, fn: func(json.RawMessage) (*domain.ToolResult, error) {
		return nil, errors.New("backend down")
	}}
}

type mcpTool struct{ *funcTool }

func (mcpTool) Source() domain.ToolSource { return domain.ToolSourceMCP }

type stubRetriever struct {
	passages []domain.Passage
	err      error
	gotK     int
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string, k int) ([]domain.Passage, error) {
	r.gotK = k
	return r.passages, r.err
}
