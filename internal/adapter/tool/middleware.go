// Package tool holds the built-in tools, the tool registry and the MCP
// service that exposes external servers' tools to the agents.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

// Execute is the standard tool execution pipeline: parse params, start a
// span, run handler, format the result.
//
// The handler returns one of:
//   - (string, nil): wrapped in a plain-text ToolResult
//   - (*domain.ToolResult, nil): returned as-is
//   - (any other value, nil): JSON-marshaled into a success ToolResult
//   - (nil, error): turned into an error ToolResult and logged
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	var p P
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &p); err != nil {
			tracer.RecordError(span, err)
			return ErrResult("invalid params: %v", err)
		}
	}

	result, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn(spanName+" failed", "error", err)

		content := err.Error()
		if classifyToolError(err) {
			content += " (transient error, may succeed on retry)"
		}
		return &domain.ToolResult{IsError: true, Content: content}, nil
	}

	return formatResult(span, result)
}

func formatResult(span trace.Span, result any) (*domain.ToolResult, error) {
	switch v := result.(type) {
	case *domain.ToolResult:
		if v.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", v.Content))
		} else {
			tracer.SetOK(span)
		}
		return v, nil
	case string:
		tracer.SetOK(span)
		return TextResult(v), nil
	default:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			tracer.RecordError(span, err)
			return ErrResult("failed to format response: %v", err)
		}
		tracer.SetOK(span)
		return TextResult(string(data)), nil
	}
}

// ErrResult creates an error ToolResult. Use it for validation errors that
// should be reported to the model without a warning log.
func ErrResult(format string, args ...any) (*domain.ToolResult, error) {
	return &domain.ToolResult{
		IsError: true,
		Content: fmt.Sprintf(format, args...),
	}, nil
}

// TextResult creates a plain text success ToolResult.
func TextResult(s string) *domain.ToolResult {
	return &domain.ToolResult{Content: s}
}
