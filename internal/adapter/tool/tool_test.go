package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"omni-agent/internal/domain"
)

func newTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// stubTool records its calls and answers with a fixed result.
type stubTool struct {
	name   string
	schema json.RawMessage
	calls  int
	last   json.RawMessage
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: s.name, Description: s.Description(), Parameters: s.schema}
}

func (s *stubTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	s.calls++
	s.last = params
	return TextResult("ok"), nil
}

// recordingBus keeps published events in memory.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestTimeTool(t *testing.T) {
	tt := NewTimeTool()
	tt.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.Local) }

	assert.Equal(t, "get_time", tt.Name())
	assert.False(t, tt.Schema().HasParameters())

	res, err := tt.Execute(context.Background(), json.RawMessage(`"whatever"`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "2025-03-04 05:06:07", res.Content)
}

type stubImageGen struct {
	file   string
	err    error
	prompt string
}

func (g *stubImageGen) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.file, g.err
}

func TestImageTool(t *testing.T) {
	gen := &stubImageGen{file: "01HX.png"}
	bus := &recordingBus{}
	it := NewImageTool(gen, bus, newTestLogger())

	ctx := domain.ContextWithSessionID(context.Background(), "s1")
	res, err := it.Execute(ctx, json.RawMessage(`{"prompt":"  a red fox  "}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "a red fox", gen.prompt)
	assert.Equal(t, "I've created an image based on your description: \"a red fox\".\n\n![Generated Image](/generated_images/01HX.png)", res.Content)

	events := bus.ofType(domain.EventImageGenerated)
	require.Len(t, events, 1)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.JSONEq(t, `{"file":"01HX.png"}`, string(events[0].Payload))
}

func TestImageToolErrors(t *testing.T) {
	t.Run("blank prompt", func(t *testing.T) {
		gen := &stubImageGen{file: "x.png"}
		res, err := NewImageTool(gen, nil, newTestLogger()).Execute(context.Background(), json.RawMessage(`{"prompt":"  "}`))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Empty(t, gen.prompt)
	})

	t.Run("generator failure", func(t *testing.T) {
		gen := &stubImageGen{err: domain.ErrImageGeneration}
		res, err := NewImageTool(gen, nil, newTestLogger()).Execute(context.Background(), json.RawMessage(`{"prompt":"cat"}`))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, domain.ErrImageGeneration.Error())
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(newTestLogger())
	require.NoError(t, r.Register(&stubTool{name: "b"}))
	require.NoError(t, r.Register(&stubTool{name: "a"}))

	err := r.Register(&stubTool{name: "a"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name())

	var names []string
	for _, tl := range r.List() {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Len(t, r.Map(), 2)
	assert.Len(t, r.Schemas(), 2)
}

func TestRegistryWrapsSchemaValidation(t *testing.T) {
	inner := &stubTool{name: "q", schema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)}
	r := NewRegistry(newTestLogger())
	require.NoError(t, r.Register(inner))

	got, err := r.Get("q")
	require.NoError(t, err)

	res, err := got.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "schema validation failed")
	assert.Zero(t, inner.calls)

	res, err = got.Execute(context.Background(), json.RawMessage(`{"query":"go"}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 1, inner.calls)
}

func TestSchemaValidationSchemaless(t *testing.T) {
	inner := &stubTool{name: "plain"}
	wrapped, err := WithSchemaValidation(inner)
	require.NoError(t, err)
	assert.Same(t, domain.Tool(inner), wrapped)
}

func TestSchemaValidationInvalidJSON(t *testing.T) {
	inner := &stubTool{name: "q", schema: json.RawMessage(`{"type":"object"}`)}
	wrapped, err := WithSchemaValidation(inner)
	require.NoError(t, err)

	res, err := wrapped.Execute(context.Background(), json.RawMessage(`{nope`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "invalid JSON")
}

func TestRateLimit(t *testing.T) {
	inner := &stubTool{name: "limited"}
	assert.Same(t, domain.Tool(inner), WithRateLimit(inner, 0))

	limited := WithRateLimit(inner, 1)
	_, err := limited.Execute(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.Execute(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, 1, inner.calls)
}

func TestExecutePipeline(t *testing.T) {
	type params struct {
		N int `json:"n"`
	}

	t.Run("structured result", func(t *testing.T) {
		res, err := Execute(context.Background(), "tool.test", newTestLogger(), json.RawMessage(`{"n":2}`),
			func(_ context.Context, _ trace.Span, p params) (any, error) {
				return map[string]int{"double": p.N * 2}, nil
			})
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.JSONEq(t, `{"double":4}`, res.Content)
	})

	t.Run("invalid params", func(t *testing.T) {
		res, err := Execute(context.Background(), "tool.test", newTestLogger(), json.RawMessage(`{"n":"x"}`),
			func(context.Context, trace.Span, params) (any, error) { return "unreached", nil })
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, "invalid params")
	})

	t.Run("transient failure", func(t *testing.T) {
		res, err := Execute(context.Background(), "tool.test", newTestLogger(), nil,
			func(context.Context, trace.Span, params) (any, error) { return nil, domain.ErrTimeout })
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, "may succeed on retry")
	})
}

func TestValidators(t *testing.T) {
	assert.Error(t, RequireField("q", "  "))
	assert.NoError(t, RequireField("q", "x"))

	assert.NoError(t, ValidateEnum("r", "", "a"))
	assert.NoError(t, ValidateEnum("r", "a", "a", "b"))
	err := ValidateEnum("r", "c", "a", "b")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "a, b"))

	assert.NoError(t, ValidateURL("u", "https://example.com"))
	assert.Error(t, ValidateURL("u", "ftp://example.com"))
	assert.Error(t, ValidateURL("u", "http://"))
}

func TestClassifyToolError(t *testing.T) {
	assert.True(t, classifyToolError(domain.ErrTimeout))
	assert.True(t, classifyToolError(context.DeadlineExceeded))
	assert.False(t, classifyToolError(errors.New("bad input")))
}
