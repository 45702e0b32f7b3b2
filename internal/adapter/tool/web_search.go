package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

// WebSearchToolName is the tool the research agent looks things up with.
const WebSearchToolName = "web_search"

const (
	defaultSourceLimit = 5
	maxSourceLimit     = 10
	defaultSearchTTL   = 15 * time.Minute
)

var recencies = []string{"day", "week", "month", "year"}

// WebSearchTool returns numbered sources the research agent cites as [n].
// Identical concurrent lookups share one request and answers are cached
// per normalized query.
type WebSearchTool struct {
	searcher Searcher
	ttl      time.Duration
	logger   *slog.Logger

	flight singleflight.Group
	mu     sync.Mutex
	cache  map[string]cachedSources
}

type cachedSources struct {
	sources []domain.Source
	expires time.Time
}

// NewWebSearchTool creates the tool. A non-positive ttl uses 15 minutes.
func NewWebSearchTool(searcher Searcher, ttl time.Duration, logger *slog.Logger) *WebSearchTool {
	if ttl <= 0 {
		ttl = defaultSearchTTL
	}
	return &WebSearchTool{searcher: searcher, ttl: ttl, logger: logger, cache: make(map[string]cachedSources)}
}

func (t *WebSearchTool) Name() string { return WebSearchToolName }

func (t *WebSearchTool) Description() string {
	return "Look up current information on the web. Returns numbered sources to cite as [n]."
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "What to look up"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Number of sources (default 5)"},
				"recency": {"type": "string", "enum": ["day", "week", "month", "year"], "description": "Only pages from this period"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
	Recency string `json:"recency,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}
			if err := ValidateEnum("recency", p.Recency, recencies...); err != nil {
				return nil, err
			}
			q := SearchQuery{Text: oneLine(p.Query), Limit: p.Limit, Recency: p.Recency}
			switch {
			case q.Limit <= 0:
				q.Limit = defaultSourceLimit
			case q.Limit > maxSourceLimit:
				q.Limit = maxSourceLimit
			}
			span.SetAttributes(tracer.StringAttr("tool.query", q.Text))

			sources, err := t.lookup(ctx, q)
			if err != nil {
				return nil, err
			}
			if len(sources) == 0 {
				return fmt.Sprintf("No web sources found for %q.", q.Text), nil
			}
			return domain.FormatSources(q.Text, sources), nil
		},
	)
}

// lookup serves q from the cache or the searcher and numbers the sources from 1.
func (t *WebSearchTool) lookup(ctx context.Context, q SearchQuery) ([]domain.Source, error) {
	key := fmt.Sprintf("%s|%d|%s", strings.ToLower(q.Text), q.Limit, q.Recency)
	if cached, ok := t.cached(key); ok {
		t.logger.Debug("web search cache hit", "query", q.Text)
		return cached, nil
	}

	v, err, shared := t.flight.Do(key, func() (any, error) {
		found, err := t.searcher.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(found) > q.Limit {
			found = found[:q.Limit]
		}
		sources := make([]domain.Source, len(found))
		for i, s := range found {
			s.Index = i + 1
			sources[i] = s
		}
		t.store(key, sources)
		return sources, nil
	})
	if err != nil {
		return nil, err
	}
	t.logger.Debug("web search", "query", q.Text, "sources", len(v.([]domain.Source)), "shared", shared)
	return v.([]domain.Source), nil
}

func (t *WebSearchTool) cached(key string) ([]domain.Source, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cache[key]
	if !ok || time.Now().After(c.expires) {
		delete(t.cache, key)
		return nil, false
	}
	return c.sources, true
}

func (t *WebSearchTool) store(key string, sources []domain.Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for k, c := range t.cache {
		if now.After(c.expires) {
			delete(t.cache, k)
		}
	}
	t.cache[key] = cachedSources{sources: sources, expires: now.Add(t.ttl)}
}
