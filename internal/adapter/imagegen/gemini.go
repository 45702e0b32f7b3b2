package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

// contentGenerator is the part of the genai client the generator needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator implements domain.ImageGenerator with a Gemini model
// that answers with inline image data.
type GeminiGenerator struct {
	models contentGenerator
	model  string
	store  *FileStore
	logger *slog.Logger
}

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, store *FileStore, logger *slog.Logger) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, domain.NewDomainError("imagegen.new", domain.ErrInvalidConfig, "image api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return newGeminiGenerator(client.Models, model, store, logger), nil
}

func newGeminiGenerator(models contentGenerator, model string, store *FileStore, logger *slog.Logger) *GeminiGenerator {
	return &GeminiGenerator{models: models, model: model, store: store, logger: logger}
}

// Generate implements domain.ImageGenerator.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "imagegen.generate")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("image.model", g.model))

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		tracer.RecordError(span, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", domain.ErrImageGeneration, domain.ErrTimeout)
		}
		return "", domain.NewDomainError("imagegen.generate", domain.ErrImageGeneration, err.Error())
	}

	blob, note := firstImage(resp)
	if blob == nil {
		detail := "no image in response"
		if note != "" {
			detail += ": " + note
		}
		tracer.RecordError(span, errors.New(detail))
		return "", domain.NewDomainError("imagegen.generate", domain.ErrImageGeneration, detail)
	}

	name, err := g.store.Save(blob.Data, blob.MIMEType)
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.NewDomainError("imagegen.save", domain.ErrImageGeneration, err.Error())
	}

	tracer.SetOK(span)
	g.logger.Info("image generated", "file", name, "model", g.model, "bytes", len(blob.Data),
		"duration", time.Since(start))
	return name, nil
}

// firstImage returns the first inline image part, plus any text the model
// sent instead.
func firstImage(resp *genai.GenerateContentResponse) (*genai.Blob, string) {
	if resp == nil {
		return nil, ""
	}
	var text []string
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData, ""
			}
			if part.Text != "" {
				text = append(text, part.Text)
			}
		}
	}
	return nil, strings.TrimSpace(strings.Join(text, " "))
}
