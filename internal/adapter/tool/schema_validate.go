package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"omni-agent/internal/domain"
)

// SchemaValidatingTool wraps a Tool with JSON Schema validation of its
// arguments. The wrapped tool keeps its name, schema and source.
type SchemaValidatingTool struct {
	inner  domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t so that Execute validates params against the
// tool's JSON Schema first. Schema-less tools are returned unchanged.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	s := t.Schema()
	if !s.HasParameters() {
		return t, nil
	}

	compiled, err := jsonschema.NewCompiler().Compile(s.Parameters)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return &SchemaValidatingTool{inner: t, schema: compiled}, nil
}

func (s *SchemaValidatingTool) Name() string              { return s.inner.Name() }
func (s *SchemaValidatingTool) Description() string       { return s.inner.Description() }
func (s *SchemaValidatingTool) Schema() domain.ToolSchema { return s.inner.Schema() }
func (s *SchemaValidatingTool) Source() domain.ToolSource { return domain.SourceOf(s.inner) }
func (s *SchemaValidatingTool) Unwrap() domain.Tool       { return s.inner }

func (s *SchemaValidatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var v any = map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &v); err != nil {
			return ErrResult("invalid JSON: %v", err)
		}
	}

	if result := s.schema.Validate(v); !result.IsValid() {
		return ErrResult("schema validation failed: %s", validationMessage(result))
	}
	return s.inner.Execute(ctx, params)
}

func validationMessage(result *jsonschema.EvaluationResult) string {
	return result.Error()
}

// validateAgainst checks v against a raw JSON Schema document.
func validateAgainst(schema []byte, v any) error {
	compiled, err := jsonschema.NewCompiler().Compile(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if result := compiled.Validate(v); !result.IsValid() {
		return fmt.Errorf("%s", validationMessage(result))
	}
	return nil
}
