package toolcall

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-agent/internal/domain"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind ArgKind
		raw  string
	}{
		{"empty", "  ", ArgsEmpty, ""},
		{"object", `{"prompt":"a cat"}`, ArgsObject, ""},
		{"repairable object", `{prompt: 'a cat',}`, ArgsObject, ""},
		{"pairs", "prompt=a cat", ArgsPairs, ""},
		{"raw", "a cat", ArgsRaw, "a cat"},
		{"string literal", `"sunset, mountains"`, ArgsRaw, "sunset, mountains"},
		{"equals in raw text", "2+2=4", ArgsRaw, "2+2=4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseArgs(tt.in)
			assert.Equal(t, tt.kind, got.Kind)
			if tt.kind == ArgsRaw {
				assert.Equal(t, tt.raw, got.Raw)
			}
		})
	}
}

func TestParseArgsObjectValues(t *testing.T) {
	got := ParseArgs(`{"prompt":"a cat"}`)
	require.Equal(t, ArgsObject, got.Kind)
	assert.Equal(t, map[string]any{"prompt": "a cat"}, got.Object)
}

func TestParseArgsPairsQuotedCommas(t *testing.T) {
	got := ParseArgs(`query="rain, snow", limit=5, lang='en'`)
	require.Equal(t, ArgsPairs, got.Kind)
	assert.Equal(t, []Pair{
		{Key: "query", Value: "rain, snow"},
		{Key: "limit", Value: "5"},
		{Key: "lang", Value: "en"},
	}, got.Pairs)
}

func TestParseArgsPairsUnquotedContinuation(t *testing.T) {
	got := ParseArgs("query=cats, dogs and birds")
	require.Equal(t, ArgsPairs, got.Kind)
	assert.Equal(t, []Pair{{Key: "query", Value: "cats, dogs and birds"}}, got.Pairs)
}

func bindJSON(t *testing.T, in string, params string) map[string]any {
	t.Helper()
	schema := domain.ToolSchema{Name: "t"}
	if params != "" {
		schema.Parameters = json.RawMessage(params)
	}
	raw, err := Bind(ParseArgs(in), schema)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestBindSchemaLessRawIsString(t *testing.T) {
	raw, err := Bind(ParseArgs("a cat"), domain.ToolSchema{Name: "generate_image"})
	require.NoError(t, err)
	assert.JSONEq(t, `"a cat"`, string(raw))

	raw, err = Bind(ParseArgs(""), domain.ToolSchema{Name: "get_time"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestBindPairsToObject(t *testing.T) {
	assert.Equal(t, map[string]any{"prompt": "a cat"}, bindJSON(t, "prompt=a cat", ""))
}

func TestBindRawToFirstRequired(t *testing.T) {
	schema := `{"type":"object","properties":{"limit":{"type":"integer"},"query":{"type":"string"}},"required":["query"]}`
	assert.Equal(t, map[string]any{"query": "golang"}, bindJSON(t, "golang", schema))
}

func TestBindRawToFirstPropertyInDocumentOrder(t *testing.T) {
	schema := `{"type":"object","properties":{"zeta":{"type":"string"},"alpha":{"type":"string"}}}`
	assert.Equal(t, map[string]any{"zeta": "value"}, bindJSON(t, "value", schema))
}

func TestBindRawWithoutPropertiesUsesInput(t *testing.T) {
	assert.Equal(t, map[string]any{"input": "x"}, bindJSON(t, "x", `{"type":"object"}`))
}

func TestBindCoercesPairs(t *testing.T) {
	schema := `{"type":"object","properties":{"n":{"type":"integer"},"f":{"type":"number"},"b":{"type":"boolean"},"s":{"type":"string"}}}`
	got := bindJSON(t, "n=3, f=2.5, b=true, s=42", schema)
	assert.Equal(t, float64(3), got["n"])
	assert.Equal(t, 2.5, got["f"])
	assert.Equal(t, true, got["b"])
	assert.Equal(t, "42", got["s"])

	got = bindJSON(t, "n=many", schema)
	assert.Equal(t, "many", got["n"], "unparseable values stay strings")
}

func TestBindObjectPassesThrough(t *testing.T) {
	schema := `{"type":"object","properties":{"city":{"type":"string"}}}`
	assert.Equal(t, map[string]any{"city": "Hanoi", "days": float64(2)}, bindJSON(t, `{"city":"Hanoi","days":2}`, schema))
}

func TestBindBadSchema(t *testing.T) {
	_, err := Bind(ParseArgs("x"), domain.ToolSchema{Name: "t", Parameters: json.RawMessage(`[1,2]`)})
	assert.Error(t, err)
}
