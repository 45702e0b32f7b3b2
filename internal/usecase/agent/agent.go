// Package agent implements the specialized agents of the orchestration graph:
// a system prompt and a tool subset bound to the shared LLM.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
	"omni-agent/internal/usecase/toolcall"
)

// Fixed user-facing fallback texts.
const (
	EmptyResponseText = "I apologize, but I couldn't generate a response."
	ToolsFailedText   = "I tried to use some tools to help with your request, but they encountered errors. " +
		"Let me provide a response based on my knowledge instead."
)

const (
	defaultResultPreview = 2000
	truncatedSuffix      = "... [truncated]"
)

var delegateRe = regexp.MustCompile(`(?im)^\s*DELEGATE:\s*[\[\("'*]*\s*(\w+)[^\n]*$`)

// ErrorText renders the degraded output for an unexpected failure.
func ErrorText(err error) string {
	return "I encountered an error: " + domain.SanitizeError(err)
}

// Options configures a Specialist.
type Options struct {
	LLM        LLMConfig
	History    *HistoryWindow
	Tools      toolcall.Options
	Delegation bool
	// ResultPreview caps each tool result quoted in the synthesis prompt.
	ResultPreview int
	Logger        *slog.Logger
	Bus           domain.EventBus
}

// Specialist is the shared agent implementation for assistant, math,
// research, planning and voice_assistant.
type Specialist struct {
	typ        domain.AgentType
	system     string
	llm        *Caller
	history    *HistoryWindow
	extractor  *toolcall.Extractor
	delegation bool
	preview    int
	logger     *slog.Logger
	bus        domain.EventBus
}

// NewSpecialist creates an agent of type typ bound to tools.
func NewSpecialist(typ domain.AgentType, llm domain.LLMProvider, tools []domain.Tool, opts Options) *Specialist {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = NewHistoryWindow(0, 0, nil)
	}
	if opts.ResultPreview <= 0 {
		opts.ResultPreview = defaultResultPreview
	}
	topts := opts.Tools
	topts.Logger = opts.Logger
	topts.Bus = opts.Bus

	system := Prompt(typ) + ToolSection(tools)
	if opts.Delegation {
		system += delegationSection(typ)
	}
	return &Specialist{
		typ:        typ,
		system:     system,
		llm:        NewCaller(llm, opts.LLM, opts.Logger),
		history:    opts.History,
		extractor:  toolcall.New(tools, topts),
		delegation: opts.Delegation,
		preview:    opts.ResultPreview,
		logger:     opts.Logger.With("agent", string(typ)),
		bus:        opts.Bus,
	}
}

func (s *Specialist) Type() domain.AgentType { return s.typ }

func (s *Specialist) Describe() domain.AgentDescriptor {
	tools := s.extractor.Tools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return domain.AgentDescriptor{Type: s.typ, Name: DisplayName(s.typ), SystemPrompt: s.system, Tools: names}
}

// Invoke runs one turn: a first LLM pass, tool extraction, and a synthesis
// pass when at least one tool succeeded.
func (s *Specialist) Invoke(ctx context.Context, turn domain.Turn) (res domain.AgentResult) {
	ctx, span := tracer.StartSpan(ctx, "agent.invoke",
		trace.WithAttributes(tracer.StringAttr("agent", string(s.typ))),
	)
	defer func() {
		if r := recover(); r != nil {
			res = domain.AgentResult{Err: fmt.Errorf("agent %s panicked: %v", s.typ, r)}
			res.Output = ErrorText(res.Err)
		}
		tracer.End(span, res.Err)
	}()

	msgs := make([]domain.Message, 0, len(turn.History)+2)
	msgs = append(msgs, domain.SystemMessage(s.system))
	msgs = append(msgs, s.history.Fit(s.system, turn.Input, turn.History)...)
	msgs = append(msgs, domain.UserMessage(turn.Input))

	first, err := s.llm.Chat(ctx, msgs)
	if err != nil {
		return s.failure(ctx, turn.SessionID, err)
	}

	if s.delegation {
		if d, ok := s.parseDelegation(first); ok {
			return domain.AgentResult{Output: first, Delegation: d}
		}
	}

	ext := s.extractor.Process(ctx, first)
	res = domain.AgentResult{Artifacts: ext.Artifacts, Failures: ext.Failures}
	span.SetAttributes(tracer.IntAttr("tool.markers", ext.Matched))
	if ext.Matched > 0 {
		s.logger.Debug("tool markers processed", "matched", ext.Matched,
			"succeeded", len(ext.Artifacts), "failed", len(ext.Failures))
	}

	switch {
	case !ext.HasToolActivity():
		res.Output = ext.Text
	case len(ext.Artifacts) > 0:
		res.Output = s.synthesize(ctx, msgs, first, ext)
	default:
		s.logger.Warn("all tool calls failed", "failures", len(ext.Failures))
		res.Output = ToolsFailedText
	}
	if strings.TrimSpace(res.Output) == "" {
		res.Output = EmptyResponseText
	}
	return res
}

// synthesize performs the second pass. When it fails the processed
// first-pass text stands.
func (s *Specialist) synthesize(ctx context.Context, msgs []domain.Message, first string, ext toolcall.Extraction) string {
	sources, consumed := gatherSources(ext.Artifacts)

	var b strings.Builder
	b.WriteString("I used tools to help answer the question. Here are the results:\n\n")
	for _, key := range ext.Artifacts.Keys() {
		if consumed[key] {
			continue
		}
		fmt.Fprintf(&b, "Result from %s:\n%s\n\n", key, Preview(ext.Artifacts[key], s.preview))
	}
	if len(sources) > 0 {
		fmt.Fprintf(&b, "Web sources:\n%s\n", domain.FormatSourceList(sources))
	}
	b.WriteString("Using these results, write one final, complete answer to my original question. " +
		"Present the information naturally and do NOT call tools again.")
	if len(sources) > 0 {
		b.WriteString(citeInstruction)
	}

	second := append(msgs[:len(msgs):len(msgs)],
		domain.AssistantMessage(first),
		domain.UserMessage(b.String()),
	)
	out, err := s.llm.Chat(ctx, second)
	if err != nil {
		s.logger.Warn("synthesis pass failed, using first pass", "error", err)
		return ext.Text
	}
	// The model is told not to call tools; strip any markers it emitted anyway.
	if strings.Contains(out, toolcall.MarkerPrefix) {
		out = toolcall.Cleanup(toolcall.StripMarkers(out))
	}
	return appendSourceList(out, sources)
}

func (s *Specialist) failure(ctx context.Context, sessionID string, err error) domain.AgentResult {
	if errors.Is(err, domain.ErrEmptyResponse) {
		return domain.AgentResult{Output: EmptyResponseText}
	}
	s.logger.Error("agent LLM call failed", "error", err)
	s.publishError(ctx, sessionID, err)
	return domain.AgentResult{Output: ErrorText(err), Err: err}
}

func (s *Specialist) publishError(ctx context.Context, sessionID string, err error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, domain.NewEvent(domain.EventAgentError, sessionID, map[string]string{
		"agent": string(s.typ),
		"error": domain.SanitizeError(err),
	}))
}

func (s *Specialist) parseDelegation(text string) (*domain.Delegation, bool) {
	m := delegateRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	target, ok := domain.ParseAgentType(m[1])
	if !ok || target == s.typ || target == domain.AgentRouter {
		return nil, false
	}
	reason := strings.TrimSpace(delegateRe.ReplaceAllString(text, ""))
	return &domain.Delegation{Target: target, Reason: reason}, true
}

// Preview truncates s to limit bytes on a rune boundary, marking the cut.
func Preview(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return s[:cut] + truncatedSuffix
}
