package tool

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/time/rate"

	"omni-agent/internal/domain"
)

// RateLimitedTool throttles calls to an inner tool with a token bucket.
// Calls wait for a token until their context ends.
type RateLimitedTool struct {
	inner   domain.Tool
	limiter *rate.Limiter
}

// WithRateLimit allows perMinute calls per minute with a burst of the same
// size. A non-positive perMinute returns t unchanged.
func WithRateLimit(t domain.Tool, perMinute int) domain.Tool {
	if perMinute <= 0 {
		return t
	}
	return &RateLimitedTool{
		inner:   t,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (r *RateLimitedTool) Name() string              { return r.inner.Name() }
func (r *RateLimitedTool) Description() string       { return r.inner.Description() }
func (r *RateLimitedTool) Schema() domain.ToolSchema { return r.inner.Schema() }
func (r *RateLimitedTool) Source() domain.ToolSource { return domain.SourceOf(r.inner) }
func (r *RateLimitedTool) Unwrap() domain.Tool       { return r.inner }

func (r *RateLimitedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, domain.NewDomainError("tool."+r.inner.Name(), domain.ErrRateLimit, err.Error())
	}
	return r.inner.Execute(ctx, params)
}
