package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/config"
	"omni-agent/internal/infra/tracer"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// OllamaProvider talks to the native Ollama /api/chat endpoint so that the
// context window (num_ctx) can be set per request.
type OllamaProvider struct {
	name          string
	model         string
	baseURL       string
	contextLength int
	client        *http.Client
	logger        *slog.Logger
}

// NewOllamaProvider creates an Ollama provider. contextLength is sent as
// num_ctx when positive.
func NewOllamaProvider(cfg config.ProviderConfig, contextLength int, client *http.Client, logger *slog.Logger) *OllamaProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	return &OllamaProvider{
		name:          cfg.Name,
		model:         cfg.Model,
		baseURL:       baseURL,
		contextLength: contextLength,
		client:        client,
		logger:        logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *OllamaProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := startChatSpan(ctx, p.name, req.Model)
	defer span.End()

	body, err := json.Marshal(p.toOllamaRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/api/chat", body, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var resp ollamaResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := &domain.ChatResponse{
		Model:     resp.Model,
		Content:   resp.Message.Content,
		CreatedAt: resp.CreatedAt,
		Usage: domain.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *OllamaProvider) Name() string { return p.name }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitzero"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	CreatedAt       time.Time     `json:"created_at"`
	Message         openaiMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *OllamaProvider) toOllamaRequest(req domain.ChatRequest) ollamaRequest {
	out := ollamaRequest{Model: req.Model}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openaiMessage{Role: m.Role, Content: m.Content})
	}
	out.Options.NumCtx = p.contextLength
	out.Options.NumPredict = req.MaxTokens
	if req.Temperature > 0 {
		temp := req.Temperature
		out.Options.Temperature = &temp
	}
	return out
}
