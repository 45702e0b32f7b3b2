package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

const maxRetryDelay = 10 * time.Second

// LLMConfig holds the request parameters and call policy shared by all agents.
type LLMConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// Caller wraps the shared provider with a per-call timeout and retries on
// transient errors. An empty completion is reported as domain.ErrEmptyResponse.
type Caller struct {
	llm    domain.LLMProvider
	cfg    LLMConfig
	logger *slog.Logger
}

// NewCaller creates a Caller for llm.
func NewCaller(llm domain.LLMProvider, cfg LLMConfig, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{llm: llm, cfg: cfg, logger: logger}
}

// Chat sends msgs and returns the trimmed completion text.
func (c *Caller) Chat(ctx context.Context, msgs []domain.Message) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat")
	var err error
	defer func() { tracer.End(span, err) }()

	req := domain.ChatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	attempts := max(c.cfg.MaxRetries, 1)
	var resp *domain.ChatResponse
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err = c.once(ctx, req)
		if err == nil {
			content := strings.TrimSpace(resp.Content)
			if content == "" {
				err = domain.ErrEmptyResponse
				return "", err
			}
			return content, nil
		}
		if !domain.IsRetryableError(err) || attempt == attempts-1 {
			break
		}
		delay := c.backoff(attempt)
		c.logger.Info("retrying LLM call after error", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
			return "", err
		}
	}
	return "", err
}

func (c *Caller) once(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	resp, err := c.llm.Chat(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrLLMTimeout) {
			return nil, fmt.Errorf("%w: %w", domain.ErrLLMTimeout, err)
		}
		return nil, err
	}
	if resp == nil {
		return nil, domain.ErrEmptyResponse
	}
	return resp, nil
}

// backoff computes exponential backoff with up to 25% jitter.
func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.cfg.RetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	if delay <= 0 {
		return 0
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4)+1))
}
