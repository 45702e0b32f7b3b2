// Package toolcall finds tool markers embedded in model output, invokes the
// named tools and splices their results back into the text.
package toolcall

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
)

// MarkerPrefix is the literal tag that introduces a tool call in model output.
const MarkerPrefix = "[Tool Used]"

const (
	DefaultMaxCalls    = 3
	DefaultCallTimeout = 30 * time.Second
)

// Names may carry the dots and colons MCP servers use to namespace tools.
var markerRe = regexp.MustCompile(`\[Tool Used\]\s*([\w.:-]+)\(([^)]*)\)`)

// Options configures an Extractor.
type Options struct {
	MaxCalls    int
	CallTimeout time.Duration
	Logger      *slog.Logger
	Bus         domain.EventBus
}

// Extractor is bound to one agent's tool subset. It is immutable after
// construction and safe for concurrent use.
type Extractor struct {
	tools       map[string]domain.Tool
	direct      *regexp.Regexp
	maxCalls    int
	callTimeout time.Duration
	logger      *slog.Logger
	bus         domain.EventBus
}

// Extraction is the outcome of one Process pass.
type Extraction struct {
	Text      string
	Artifacts domain.Artifacts
	Failures  []domain.ToolFailure
	// Matched counts marker spans that were rewritten (invoked or suppressed).
	Matched int
}

// HasToolActivity reports whether any tool was invoked in the pass.
func (x Extraction) HasToolActivity() bool {
	return len(x.Artifacts) > 0 || len(x.Failures) > 0
}

// New creates an Extractor over tools. Tools whose source is MCP are also
// recognized without the marker prefix.
func New(tools []domain.Tool, opts Options) *Extractor {
	if opts.MaxCalls <= 0 {
		opts.MaxCalls = DefaultMaxCalls
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Extractor{
		tools:       make(map[string]domain.Tool, len(tools)),
		maxCalls:    opts.MaxCalls,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger,
		bus:         opts.Bus,
	}

	var external []string
	for _, t := range tools {
		e.tools[t.Name()] = t
		if domain.SourceOf(t) == domain.ToolSourceMCP {
			external = append(external, t.Name())
		}
	}
	if len(external) > 0 {
		// Longest names first so alternation never stops at a shorter prefix.
		sort.Slice(external, func(i, j int) bool { return len(external[i]) > len(external[j]) })
		quoted := make([]string, len(external))
		for i, n := range external {
			quoted[i] = regexp.QuoteMeta(n)
		}
		e.direct = regexp.MustCompile(`(` + strings.Join(quoted, "|") + `)\(([^)]*)\)`)
	}
	return e
}

// Tools returns the bound tools in name order.
func (e *Extractor) Tools() []domain.Tool {
	out := make([]domain.Tool, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

type call struct {
	start, end int
	name       string
	args       string
	key        string
	suppressed bool
	tool       domain.Tool
}

type callResult struct {
	content string
	err     error
}

// Process scans text for tool markers, invokes the matched tools concurrently
// and returns the rewritten text. It never fails: tool errors are reported in
// Extraction.Failures and their spans are removed.
func (e *Extractor) Process(ctx context.Context, text string) Extraction {
	out := Extraction{Text: text, Artifacts: domain.Artifacts{}}
	if len(e.tools) == 0 || text == "" {
		return out
	}

	calls := e.scan(text)
	if len(calls) == 0 {
		return out
	}

	ctx, span := tracer.StartSpan(ctx, "toolcall.process",
		trace.WithAttributes(tracer.IntAttr("toolcall.matched", len(calls))),
	)
	defer span.End()

	results := e.invokeAll(ctx, calls)

	var b strings.Builder
	prev := 0
	for i, c := range calls {
		b.WriteString(text[prev:c.start])
		prev = c.end
		out.Matched++
		if c.suppressed {
			e.logger.Warn("tool call suppressed: per-turn limit reached",
				"tool", c.name, "limit", e.maxCalls)
			continue
		}
		r := results[i]
		if r.err != nil {
			e.logger.Warn("tool call failed", "tool", c.name, "error", r.err)
			out.Failures = append(out.Failures, domain.ToolFailure{Tool: c.name, Err: domain.SanitizeError(r.err)})
			e.publish(ctx, domain.EventToolCallFailed, c, r)
			continue
		}
		b.WriteString(r.content)
		out.Artifacts[c.key] = r.content
		e.publish(ctx, domain.EventToolCallCompleted, c, r)
	}
	b.WriteString(text[prev:])

	out.Text = Cleanup(b.String())
	span.SetAttributes(
		tracer.IntAttr("toolcall.artifacts", len(out.Artifacts)),
		tracer.IntAttr("toolcall.failures", len(out.Failures)),
	)
	tracer.SetOK(span)
	return out
}

// scan collects prefixed and direct matches on the unmodified text, drops
// direct matches that overlap a prefixed one, and assigns artifact keys.
func (e *Extractor) scan(text string) []call {
	var calls []call
	for _, m := range markerRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		t, ok := e.tools[name]
		if !ok {
			e.logger.Debug("tool marker names an unknown tool", "tool", name)
			continue
		}
		calls = append(calls, call{start: m[0], end: m[1], name: name, args: text[m[4]:m[5]], tool: t})
	}

	if e.direct != nil {
		prefixed := markerRe.FindAllStringIndex(text, -1)
		for _, m := range e.direct.FindAllStringSubmatchIndex(text, -1) {
			if m[0] > 0 && isIdentByte(text[m[0]-1]) {
				continue
			}
			if overlaps(prefixed, m[0], m[1]) {
				continue
			}
			// A marker the prefixed pattern could not parse still belongs to this call.
			start := m[0]
			if before := strings.TrimRight(text[:start], " \t"); strings.HasSuffix(before, MarkerPrefix) {
				start = len(before) - len(MarkerPrefix)
			}
			name := text[m[2]:m[3]]
			calls = append(calls, call{start: start, end: m[1], name: name, args: text[m[4]:m[5]], tool: e.tools[name]})
		}
	}

	sort.Slice(calls, func(i, j int) bool { return calls[i].start < calls[j].start })

	counts := make(map[string]int)
	for i := range calls {
		counts[calls[i].name]++
		n := counts[calls[i].name]
		if n > e.maxCalls {
			calls[i].suppressed = true
			continue
		}
		calls[i].key = domain.ArtifactKey(calls[i].name, n)
	}
	return calls
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '-' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func overlaps(spans [][]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// invokeAll runs every non-suppressed call concurrently. Results are indexed
// by call position so the rewrite stays in text order.
func (e *Extractor) invokeAll(ctx context.Context, calls []call) []callResult {
	results := make([]callResult, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		if c.suppressed {
			continue
		}
		wg.Add(1)
		go func(i int, c call) {
			defer wg.Done()
			results[i] = e.invoke(ctx, c)
		}(i, c)
	}
	wg.Wait()
	return results
}

func (e *Extractor) invoke(ctx context.Context, c call) (res callResult) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "tool."+c.name)
	defer func() {
		if r := recover(); r != nil {
			res = callResult{err: fmt.Errorf("%w: %s panicked: %v", domain.ErrToolFailure, c.name, r)}
		}
		tracer.End(span, res.err)
	}()

	parsed := ParseArgs(c.args)
	span.SetAttributes(tracer.StringAttr("tool.args_kind", parsed.Kind.String()))
	payload, err := Bind(parsed, c.tool.Schema())
	if err != nil {
		return callResult{err: fmt.Errorf("%w: %v", domain.ErrToolFailure, err)}
	}

	result, err := c.tool.Execute(ctx, payload)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return callResult{err: fmt.Errorf("%w: %s: %w", domain.ErrTimeout, c.name, ctx.Err())}
		}
		return callResult{err: fmt.Errorf("%w: %s: %w", domain.ErrToolFailure, c.name, err)}
	case result == nil:
		return callResult{err: fmt.Errorf("%w: %s returned no result", domain.ErrToolFailure, c.name)}
	case result.IsError:
		return callResult{err: fmt.Errorf("%w: %s: %s", domain.ErrToolFailure, c.name, result.Content)}
	}
	return callResult{content: result.Content}
}

func (e *Extractor) publish(ctx context.Context, typ domain.EventType, c call, r callResult) {
	if e.bus == nil {
		return
	}
	payload := map[string]string{"tool": c.name, "key": c.key}
	if r.err != nil {
		payload["error"] = domain.SanitizeError(r.err)
	}
	e.bus.Publish(ctx, domain.NewEvent(typ, domain.SessionIDFromContext(ctx), payload))
}

var (
	jsonFenceRe  = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n?\\s*[\\[{].*?[\\]}]\\s*```")
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Cleanup removes fenced blocks holding raw JSON, collapses runs of three or
// more newlines to two, and trims surrounding whitespace.
func Cleanup(s string) string {
	s = jsonFenceRe.ReplaceAllString(s, "")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// StripMarkers removes every prefixed tool marker from s without invoking anything.
func StripMarkers(s string) string {
	return markerRe.ReplaceAllString(s, "")
}
