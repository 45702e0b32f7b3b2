package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-agent/internal/domain"
)

func newTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// countingEmbedder returns deterministic vectors and counts calls.
type countingEmbedder struct {
	calls atomic.Int64
	dims  int
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dims)
		for j := range v {
			v[j] = float32(len(t)+i+j) / 100
		}
		out[i] = v
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return e.dims }
func (e *countingEmbedder) Name() string    { return "counting" }

func TestCachedEmbedderHitMiss(t *testing.T) {
	inner := &countingEmbedder{dims: 3}
	cached := NewCachedEmbedder(inner, 2).(*CachedEmbedder)
	ctx := context.Background()

	r1, err := cached.Embed(ctx, []string{"hello"})
	require.NoError(t, err)
	r2, err := cached.Embed(ctx, []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, r1, r2)

	_, err = cached.Embed(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load(), "batches bypass the cache")
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedderEvictsLRU(t *testing.T) {
	inner := &countingEmbedder{dims: 2}
	cached := NewCachedEmbedder(inner, 2).(*CachedEmbedder)
	ctx := context.Background()

	for _, s := range []string{"one", "two", "one", "three"} {
		_, err := cached.Embed(ctx, []string{s})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cached.Len())
	calls := inner.calls.Load()

	_, err := cached.Embed(ctx, []string{"one"})
	require.NoError(t, err)
	assert.Equal(t, calls, inner.calls.Load(), "recently used entry survives")

	_, err = cached.Embed(ctx, []string{"two"})
	require.NoError(t, err)
	assert.Equal(t, calls+1, inner.calls.Load(), "least recently used entry was evicted")
}

func TestCachedEmbedderDisabled(t *testing.T) {
	inner := &countingEmbedder{dims: 2}
	assert.Same(t, domain.EmbeddingProvider(inner), NewCachedEmbedder(inner, 0))
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(WithOllamaBaseURL(srv.URL+"/"), WithOllamaDimensions(2))
	vecs, err := e.Embed(context.Background(), []string{"hi"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}}, vecs)
	assert.Equal(t, 2, e.Dimensions())
}

func TestOllamaEmbedderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(WithOllamaBaseURL(srv.URL))
	_, err := e.Embed(context.Background(), []string{"hi"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "404")

	vecs, err := e.Embed(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestQdrantRetriever(t *testing.T) {
	var got qdrantSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/rag_collection/points/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status":"ok","result":[
			{"id":1,"score":0.9,"payload":{"page_content":"Go is fast.","metadata":{"source":"a.pdf","page":3}}},
			{"id":2,"score":0.5,"payload":{"other":"no text"}},
			{"id":3,"score":0.4,"payload":{"text":"Plain chunk"}}
		]}`)
	}))
	defer srv.Close()

	r := NewQdrantRetriever(srv.URL, "secret", "rag_collection", &countingEmbedder{dims: 4}, nil, newTestLogger())
	passages, err := r.Retrieve(context.Background(), "why go", 0)
	require.NoError(t, err)

	assert.Equal(t, defaultK, got.Limit)
	assert.True(t, got.WithPayload)
	assert.Len(t, got.Vector, 4)

	require.Len(t, passages, 2)
	assert.Equal(t, "Go is fast.", passages[0].Content)
	assert.Equal(t, map[string]string{"source": "a.pdf", "page": "3"}, passages[0].Meta)
	assert.InDelta(t, 0.9, passages[0].Score, 1e-6)
	assert.Equal(t, "Plain chunk", passages[1].Content)
}

func TestQdrantRetrieverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "collection missing", http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewQdrantRetriever(srv.URL, "", "c", &countingEmbedder{dims: 2}, nil, newTestLogger())
	_, err := r.Retrieve(context.Background(), "q", 3)
	assert.ErrorIs(t, err, domain.ErrRetrieval)

	_, err = r.Retrieve(context.Background(), "  ", 3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	failing := NewQdrantRetriever(srv.URL, "", "c", &countingEmbedder{err: domain.ErrEmbeddingFailed}, nil, newTestLogger())
	_, err = failing.Retrieve(context.Background(), "q", 3)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
}
