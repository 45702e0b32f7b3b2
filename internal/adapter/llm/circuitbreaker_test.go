package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/config"
)

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "test",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Content: "ok"}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "test", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			calls.Add(1)
			return nil, domain.ErrLLMUnavailable
		},
	}

	cfg := config.CircuitBreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second, Interval: time.Minute}
	cb := NewCircuitBreakerProvider(inner, cfg, slog.Default())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.ErrorIs(t, err, domain.ErrLLMUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load(), "provider must not be called while open")
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	inner := &mockProvider{
		name: "recovering",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			if fail.Load() {
				return nil, errors.New("down")
			}
			return &domain.ChatResponse{Content: "recovered"}, nil
		},
	}

	cfg := config.CircuitBreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond, Interval: time.Minute}
	cb := NewCircuitBreakerProvider(inner, cfg, slog.Default())

	for i := 0; i < 2; i++ {
		_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	fail.Store(false)
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCallerErrors(t *testing.T) {
	inner := &mockProvider{
		name: "strict",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, domain.ErrContextOverflow
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, slog.Default())
	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.ErrorIs(t, err, domain.ErrContextOverflow)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestNewHTTPClientUsesConfiguredTimeout(t *testing.T) {
	client := NewHTTPClient(config.LLMConfig{Timeout: 42 * time.Second})
	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, tr.ResponseHeaderTimeout)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)

	tr = NewPooledTransport(0, 0)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)
}
