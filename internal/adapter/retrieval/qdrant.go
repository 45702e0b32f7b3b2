// Package retrieval answers RAG queries: texts are embedded with an
// EmbeddingProvider and matched against a Qdrant collection over its REST API.
package retrieval

import (
	"bytes"
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
	"omni-agent/internal/infra/tracer"
)

const (
	defaultK          = 6
	maxSearchBody     = 4 * 1024 * 1024
	qdrantHTTPTimeout = 30 * time.Second
)

// QdrantRetriever implements domain.Retriever against one collection.
type QdrantRetriever struct {
	baseURL    string
	apiKey     string
	collection string
	embedder   domain.EmbeddingProvider
	client     *http.Client
	logger     *slog.Logger
}

// NewQdrantRetriever creates a retriever. client may be nil.
func NewQdrantRetriever(baseURL, apiKey, collection string, embedder domain.EmbeddingProvider, client *http.Client, logger *slog.Logger) *QdrantRetriever {
	if client == nil {
		client = &http.Client{Timeout: qdrantHTTPTimeout}
	}
	return &QdrantRetriever{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		embedder:   embedder,
		client:     client,
		logger:     logger,
	}
}

type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
	Status any `json:"status"`
}

// Retrieve implements domain.Retriever.
func (r *QdrantRetriever) Retrieve(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	ctx, span := tracer.StartSpan(ctx, "retrieval.qdrant")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, domain.NewDomainError("retrieval.retrieve", domain.ErrInvalidInput, "empty query")
	}
	if k <= 0 {
		k = defaultK
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	if len(vecs) == 0 {
		return nil, domain.NewDomainError("retrieval.retrieve", domain.ErrRetrieval, "empty embedding")
	}

	body, err := json.Marshal(qdrantSearchRequest{Vector: vecs[0], Limit: k, WithPayload: true})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", domain.ErrRetrieval, err)
	}

	endpoint := fmt.Sprintf("%s/collections/%s/points/search", r.baseURL, url.PathEscape(r.collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrRetrieval, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("api-key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrieval, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrRetrieval, err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: qdrant HTTP %d: %s", domain.ErrRetrieval, resp.StatusCode, truncate(string(data), 200))
		tracer.RecordError(span, err)
		return nil, err
	}

	var out qdrantSearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrRetrieval, err)
	}

	passages := make([]domain.Passage, 0, len(out.Result))
	for _, hit := range out.Result {
		content := payloadText(hit.Payload)
		if content == "" {
			continue
		}
		passages = append(passages, domain.Passage{Content: content, Score: hit.Score, Meta: payloadMeta(hit.Payload)})
	}

	span.SetAttributes(tracer.IntAttr("retrieval.hits", len(passages)))
	tracer.SetOK(span)
	r.logger.Debug("qdrant search completed", "collection", r.collection, "k", k, "hits", len(passages))
	return passages, nil
}

// payloadText reads the chunk text. Documents indexed by LangChain store it
// under page_content; plain indexers tend to use text or content.
func payloadText(p map[string]any) string {
	for _, key := range []string{"page_content", "text", "content"} {
		if s, ok := p[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func payloadMeta(p map[string]any) map[string]string {
	m, ok := p["metadata"].(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		default:
			if b, err := json.Marshal(t); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

var _ domain.Retriever = (*QdrantRetriever)(nil)
