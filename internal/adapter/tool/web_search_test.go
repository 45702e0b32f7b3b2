package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-agent/internal/domain"
)

type stubSearcher struct {
	sources []domain.Source
	err     error
	delay   time.Duration
	calls   atomic.Int32
	last    SearchQuery
}

func (s *stubSearcher) Search(_ context.Context, q SearchQuery) ([]domain.Source, error) {
	s.calls.Add(1)
	s.last = q
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.sources, s.err
}

func TestWebSearchReturnsNumberedSources(t *testing.T) {
	searcher := &stubSearcher{sources: []domain.Source{
		{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"},
		{Title: "Tour", URL: "https://go.dev/tour"},
	}}
	ws := NewWebSearchTool(searcher, 0, newTestLogger())

	res, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"  golang   release ","limit":1,"recency":"week"}`))
	require.NoError(t, err)
	require.False(t, res.IsError, res.Content)

	assert.Equal(t, SearchQuery{Text: "golang release", Limit: 1, Recency: "week"}, searcher.last)
	sources := domain.ParseSources(res.Content)
	require.Len(t, sources, 1)
	assert.Equal(t, domain.Source{Index: 1, Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}, sources[0])

	_, err = ws.Execute(context.Background(), json.RawMessage(`{"query":"Golang release","limit":1,"recency":"week"}`))
	require.NoError(t, err)
	assert.Equal(t, int32(1), searcher.calls.Load(), "same query served from cache")
}

func TestWebSearchLimitIsClamped(t *testing.T) {
	searcher := &stubSearcher{}
	ws := NewWebSearchTool(searcher, 0, newTestLogger())

	_, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"x","limit":50}`))
	require.NoError(t, err)
	assert.Equal(t, maxSourceLimit, searcher.last.Limit)

	_, err = ws.Execute(context.Background(), json.RawMessage(`{"query":"y"}`))
	require.NoError(t, err)
	assert.Equal(t, defaultSourceLimit, searcher.last.Limit)
}

func TestWebSearchSharesConcurrentLookups(t *testing.T) {
	searcher := &stubSearcher{delay: 100 * time.Millisecond, sources: []domain.Source{{Title: "A", URL: "https://a.example"}}}
	ws := NewWebSearchTool(searcher, 0, newTestLogger())

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"same"}`))
			assert.NoError(t, err)
			assert.Len(t, domain.ParseSources(res.Content), 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestWebSearchErrors(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		searcher *stubSearcher
		want     string
	}{
		{"empty query", `{"query":""}`, &stubSearcher{}, "'query' is required"},
		{"bad recency", `{"query":"x","recency":"decade"}`, &stubSearcher{}, "invalid recency"},
		{"invalid json", `nope`, &stubSearcher{}, "invalid params"},
		{"searcher failure", `{"query":"x"}`, &stubSearcher{err: errors.New("connection refused")}, "may succeed on retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := NewWebSearchTool(tt.searcher, 0, newTestLogger())
			res, err := ws.Execute(context.Background(), json.RawMessage(tt.params))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, res.Content, tt.want)
		})
	}
}

func TestWebSearchNoSources(t *testing.T) {
	ws := NewWebSearchTool(&stubSearcher{}, 0, newTestLogger())
	res, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"zzz"}`))
	require.NoError(t, err)
	assert.Equal(t, `No web sources found for "zzz".`, res.Content)
	assert.Nil(t, domain.ParseSources(res.Content))
}

func TestSearXNGDedupesAndTrims(t *testing.T) {
	var got *http.Request
	s := NewSearXNG("http://searx.local/", newTestLogger())
	s.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			got = req
			body := `{"results":[
				{"title":"A  page","url":"https://a.example/x/","content":"first\n  line"},
				{"title":"A again","url":"http://A.example/x#top","content":"dup"},
				{"title":"No url","url":"","content":"skip"},
				{"title":"","url":"https://b.example/y?id=2","content":"` + strings.Repeat("b", 400) + `"},
				{"title":"C","url":"https://c.example","content":"over limit"}
			]}`
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
		}),
	}

	sources, err := s.Search(context.Background(), SearchQuery{Text: "weather", Limit: 2, Recency: "day"})
	require.NoError(t, err)

	assert.Equal(t, "/search", got.URL.Path)
	assert.Equal(t, "weather", got.URL.Query().Get("q"))
	assert.Equal(t, "json", got.URL.Query().Get("format"))
	assert.Equal(t, "day", got.URL.Query().Get("time_range"))

	require.Len(t, sources, 2)
	assert.Equal(t, domain.Source{Title: "A page", URL: "https://a.example/x/", Snippet: "first line"}, sources[0])
	assert.Equal(t, "b.example/y?id=2", sources[1].Title)
	assert.Equal(t, strings.Repeat("b", snippetRunes)+"...", sources[1].Snippet)
}

func TestSearXNGHTTPError(t *testing.T) {
	s := NewSearXNG("http://searx.local", newTestLogger())
	s.client = &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader(strings.Repeat("x", 500)))}, nil
		}),
	}

	_, err := s.Search(context.Background(), SearchQuery{Text: "q", Limit: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
}
