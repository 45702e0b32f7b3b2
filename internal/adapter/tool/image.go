package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

// GeneratedImagesURL is the URL prefix generated files are served under.
const GeneratedImagesURL = "/generated_images/"

// ImageTool renders a prompt with an ImageGenerator and answers with a
// markdown reference to the stored file.
type ImageTool struct {
	gen    domain.ImageGenerator
	bus    domain.EventBus
	logger *slog.Logger
}

// NewImageTool creates the generate_image tool. bus may be nil.
func NewImageTool(gen domain.ImageGenerator, bus domain.EventBus, logger *slog.Logger) *ImageTool {
	return &ImageTool{gen: gen, bus: bus, logger: logger}
}

func (t *ImageTool) Name() string { return "generate_image" }
func (t *ImageTool) Description() string {
	return "Generates an image based on a text description. Input should be a detailed description of the desired image."
}

func (t *ImageTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "Detailed description of the image"}
			},
			"required": ["prompt"]
		}`),
	}
}

type imageParams struct {
	Prompt string `json:"prompt"`
}

func (t *ImageTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.generate_image", t.logger, params,
		func(ctx context.Context, span trace.Span, p imageParams) (any, error) {
			prompt := strings.TrimSpace(p.Prompt)
			if err := RequireField("prompt", prompt); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("image.prompt_len", len(prompt)))

			file, err := t.gen.Generate(ctx, prompt)
			if err != nil {
				return nil, domain.WrapOp("image.generate", err)
			}

			if t.bus != nil {
				t.bus.Publish(ctx, domain.NewEvent(domain.EventImageGenerated,
					domain.SessionIDFromContext(ctx), map[string]string{"file": file}))
			}
			return ImageReply(prompt, file), nil
		},
	)
}

// ImageReply is the text the tool answers with for a stored file.
func ImageReply(prompt, file string) string {
	return fmt.Sprintf("I've created an image based on your description: \"%s\".\n\n![Generated Image](%s%s)",
		prompt, GeneratedImagesURL, file)
}
