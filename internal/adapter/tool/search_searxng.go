package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"omni-agent/internal/domain"
)

// Searcher finds web pages for a research query.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) ([]domain.Source, error)
}

// SearchQuery is one lookup. A zero Limit keeps every result. Recency is "", "day", "week", "month" or "year".
type SearchQuery struct {
	Text    string
	Limit   int
	Recency string
}

const (
	searxngTimeout   = 15 * time.Second
	searxngBodyLimit = 512 << 10
	snippetRunes     = 300
)

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// SearXNG queries the JSON API of a SearXNG instance.
type SearXNG struct {
	client *http.Client
	base   string
	logger *slog.Logger
}

// NewSearXNG returns a Searcher for the instance at baseURL.
func NewSearXNG(baseURL string, logger *slog.Logger) *SearXNG {
	return &SearXNG{
		client: &http.Client{Timeout: searxngTimeout},
		base:   strings.TrimRight(baseURL, "/"),
		logger: logger,
	}
}

// Search returns up to q.Limit sources with duplicate pages and blank URLs
// dropped. Indexes are left to the caller.
func (s *SearXNG) Search(ctx context.Context, q SearchQuery) ([]domain.Source, error) {
	params := url.Values{"q": {q.Text}, "format": {"json"}, "categories": {"general"}}
	if q.Recency != "" {
		params.Set("time_range", q.Recency)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, searxngBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("searxng: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng: HTTP %d: %s", resp.StatusCode, clip(string(body), 200))
	}

	var out searxngResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("searxng: decode: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = len(out.Results)
	}
	seen := make(map[string]bool, len(out.Results))
	sources := make([]domain.Source, 0, min(limit, len(out.Results)))
	for _, r := range out.Results {
		if len(sources) == limit {
			break
		}
		key := pageKey(r.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		title := oneLine(r.Title)
		if title == "" {
			title = key
		}
		sources = append(sources, domain.Source{
			Title:   title,
			URL:     strings.TrimSpace(r.URL),
			Snippet: clip(oneLine(r.Content), snippetRunes),
		})
	}
	s.logger.Debug("searxng search", "query", q.Text, "results", len(out.Results), "kept", len(sources))
	return sources, nil
}

// pageKey identifies a page regardless of scheme, fragment and trailing slash.
func pageKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host) + strings.TrimRight(u.EscapedPath(), "/") + queryPart(u)
}

func queryPart(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
