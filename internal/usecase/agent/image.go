package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
	"omni-agent/internal/usecase/toolcall"
)

// ImageToolName is the tool the image agent always calls.
const ImageToolName = "generate_image"

const distillInstruction = "Describe the image to generate for this request in one detailed paragraph:\n\n"

// ImageAgent distills the request into a descriptive prompt and calls the
// image tool directly instead of relying on the model to emit a marker.
type ImageAgent struct {
	system  string
	llm     *Caller
	tool    domain.Tool
	timeout time.Duration
	logger  *slog.Logger
}

// NewImageAgent creates the image agent. tool must be the generate_image tool.
func NewImageAgent(llm domain.LLMProvider, tool domain.Tool, opts Options) *ImageAgent {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	timeout := opts.Tools.CallTimeout
	if timeout <= 0 {
		timeout = toolcall.DefaultCallTimeout
	}
	return &ImageAgent{
		system:  Prompt(domain.AgentImage) + ToolSection([]domain.Tool{tool}),
		llm:     NewCaller(llm, opts.LLM, opts.Logger),
		tool:    tool,
		timeout: timeout,
		logger:  opts.Logger.With("agent", string(domain.AgentImage)),
	}
}

func (a *ImageAgent) Type() domain.AgentType { return domain.AgentImage }

func (a *ImageAgent) Describe() domain.AgentDescriptor {
	return domain.AgentDescriptor{
		Type:         domain.AgentImage,
		Name:         DisplayName(domain.AgentImage),
		SystemPrompt: a.system,
		Tools:        []string{a.tool.Name()},
	}
}

func (a *ImageAgent) Invoke(ctx context.Context, turn domain.Turn) (res domain.AgentResult) {
	ctx, span := tracer.StartSpan(ctx, "agent.invoke",
		trace.WithAttributes(tracer.StringAttr("agent", string(domain.AgentImage))),
	)
	defer func() {
		if r := recover(); r != nil {
			res = domain.AgentResult{Err: fmt.Errorf("image agent panicked: %v", r)}
			res.Output = ErrorText(res.Err)
		}
		tracer.End(span, res.Err)
	}()

	prompt := a.distill(ctx, turn.Input)
	span.SetAttributes(tracer.StringAttr("image.prompt", prompt))

	result, err := a.generate(ctx, prompt)
	if err != nil {
		a.logger.Error("image generation failed", "error", err)
		return domain.AgentResult{
			Output:   "I couldn't generate the image: " + domain.SanitizeError(err),
			Failures: []domain.ToolFailure{{Tool: a.tool.Name(), Err: domain.SanitizeError(err)}},
			Err:      domain.WrapOp("image.generate", err),
		}
	}
	return domain.AgentResult{
		Output:    result.Content,
		Artifacts: domain.Artifacts{a.tool.Name(): result.Content},
	}
}

// generate calls the image tool bounded by the per-call timeout.
func (a *ImageAgent) generate(ctx context.Context, prompt string) (*domain.ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params, _ := json.Marshal(map[string]string{"prompt": prompt})
	result, err := a.tool.Execute(ctx, params)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrTimeout, a.tool.Name(), ctx.Err())
		}
		return nil, err
	case result == nil:
		return nil, domain.ErrImageGeneration
	case result.IsError:
		return nil, fmt.Errorf("%w: %s", domain.ErrImageGeneration, result.Content)
	}
	return result, nil
}

// distill asks the model for a descriptive prompt, falling back to the raw input.
func (a *ImageAgent) distill(ctx context.Context, input string) string {
	out, err := a.llm.Chat(ctx, []domain.Message{
		domain.SystemMessage(a.system),
		domain.UserMessage(distillInstruction + input),
	})
	if err != nil {
		a.logger.Warn("prompt distillation failed, using raw input", "error", err)
		return input
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" || strings.Contains(out, "[Tool Used]") {
		return input
	}
	return out
}
