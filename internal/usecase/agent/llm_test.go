package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/logger"
)

type blockingLLM struct{}

func (blockingLLM) Name() string { return "blocking" }

func (blockingLLM) Chat(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCaller_Timeout(t *testing.T) {
	c := NewCaller(blockingLLM{}, LLMConfig{Timeout: 20 * time.Millisecond, MaxRetries: 1}, logger.Discard())

	start := time.Now()
	_, err := c.Chat(context.Background(), []domain.Message{domain.UserMessage("hi")})

	if !errors.Is(err, domain.ErrLLMTimeout) {
		t.Fatalf("err = %v, want ErrLLMTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestCaller_PassesRequestParameters(t *testing.T) {
	llm := newScripted(reply{content: "  hi  "})
	c := NewCaller(llm, LLMConfig{Model: "m", MaxTokens: 10, Temperature: 0.5}, logger.Discard())

	out, err := c.Chat(context.Background(), []domain.Message{domain.UserMessage("hi")})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hi" {
		t.Errorf("out = %q", out)
	}
	req := llm.request(0)
	if req.Model != "m" || req.MaxTokens != 10 || req.Temperature != 0.5 {
		t.Errorf("request = %+v", req)
	}
}

func TestCaller_NonRetryableStopsImmediately(t *testing.T) {
	llm := newScripted(reply{err: domain.ErrAuthInvalid}, reply{content: "never"})
	c := NewCaller(llm, LLMConfig{MaxRetries: 3}, logger.Discard())

	_, err := c.Chat(context.Background(), nil)
	if !errors.Is(err, domain.ErrAuthInvalid) {
		t.Fatalf("err = %v", err)
	}
	if llm.calls() != 1 {
		t.Errorf("calls = %d, want 1", llm.calls())
	}
}
