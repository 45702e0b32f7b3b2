package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"omni-agent/internal/domain"
)

type mockProvider struct {
	name     string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return m.chatFunc(ctx, req)
}
func (m *mockProvider) Name() string { return m.name }

func failing(name string, err error) *mockProvider {
	return &mockProvider{name: name, chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, err
	}}
}

func answering(name, content string) *mockProvider {
	return &mockProvider{name: name, chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		return &domain.ChatResponse{Content: content}, nil
	}}
}

func TestFailoverPrimarySuccess(t *testing.T) {
	fb := failing("fallback", errors.New("should not be called"))
	f := NewFailoverProvider(answering("primary", "primary"), []domain.LLMProvider{fb}, slog.Default())

	resp, err := f.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "primary" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestFailoverPrimaryFailFallbackSuccess(t *testing.T) {
	f := NewFailoverProvider(
		failing("primary", domain.ErrLLMUnavailable),
		[]domain.LLMProvider{failing("fb1", domain.ErrRateLimit), answering("fb2", "from fb2")},
		slog.Default(),
	)

	resp, err := f.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "from fb2" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestFailoverAllFail(t *testing.T) {
	f := NewFailoverProvider(
		failing("primary", domain.ErrLLMUnavailable),
		[]domain.LLMProvider{failing("fb1", domain.ErrRateLimit)},
		slog.Default(),
	)

	_, err := f.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrLLMUnavailable) || !errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("aggregated error lost a sentinel: %v", err)
	}
	for _, name := range []string{"primary", "fb1"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err.Error(), name)
		}
	}
	if f.Name() != "primary+failover" {
		t.Errorf("Name = %q", f.Name())
	}
}

func TestFailoverStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &mockProvider{name: "primary", chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		cancel()
		return nil, context.Canceled
	}}
	called := false
	fb := &mockProvider{name: "fb", chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
		called = true
		return &domain.ChatResponse{Content: "late"}, nil
	}}

	_, err := NewFailoverProvider(primary, []domain.LLMProvider{fb}, slog.Default()).Chat(ctx, domain.ChatRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if called {
		t.Error("fallback called after cancellation")
	}
}
