// Package router classifies a user message to one specialized agent.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/tracer"
	"omni-agent/internal/usecase/agent"
)

var routeRe = regexp.MustCompile(`(?i)ROUTE:\s*[\[\("'*]*\s*(\w+)`)

// ImageKeywords force the image route when the classifier picked the assistant.
var ImageKeywords = []string{
	"draw", "image", "picture", "visualize", "visualise", "illustration", "illustrate",
	"sketch", "show me", "paint", "painting", "generate a photo", "render",
}

const routerPrompt = `You are the Router Agent, the central coordinator of a multi-agent system.
Your job is to analyze the user's request and choose the single best agent to handle it.

Available agents:
%AGENTS%

Routing rules:
- Requests to draw, create, generate or visualize a picture go to the Image Agent.
- Calculations, equations and other math problems go to the Math Agent.
- Fact finding, explanations of topics and current events go to the Research Agent.
- Schedules, task breakdowns, project plans and organizing go to the Planning Agent.
- Everything else, including casual conversation and time questions, goes to the Assistant Agent.

Respond with one line in exactly this format and nothing else: "ROUTE: [Agent Name]"`

var agentBlurbs = map[domain.AgentType]string{
	domain.AgentAssistant:      "General conversation, questions and everyday assistance.",
	domain.AgentVoiceAssistant: "Spoken conversation and everyday assistance.",
	domain.AgentMath:           "Mathematical problems, calculations and equations.",
	domain.AgentResearch:       "Information gathering, fact checking and knowledge questions.",
	domain.AgentPlanning:       "Planning, scheduling and breaking down projects.",
	domain.AgentImage:          "Generating images from descriptions.",
	domain.AgentRAG:            "Questions about the documents in the knowledge base.",
}

// Options configures a Router.
type Options struct {
	LLM agent.LLMConfig
	// Targets is the set of agents the router may select. The first entry
	// is the assistant slot used as the default route.
	Targets      []domain.AgentType
	HistoryLimit int
	Logger       *slog.Logger
	Bus          domain.EventBus
}

// Router picks the agent for a turn with one LLM call and a keyword safety net.
type Router struct {
	llm          *agent.Caller
	targets      []domain.AgentType
	fallback     domain.AgentType
	historyLimit int
	logger       *slog.Logger
	bus          domain.EventBus

	mu     sync.RWMutex
	tools  []domain.Tool
	prompt string
}

// New creates a Router over opts.Targets.
func New(llm domain.LLMProvider, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Targets) == 0 {
		opts.Targets = []domain.AgentType{domain.AgentAssistant}
	}
	r := &Router{
		llm:          agent.NewCaller(llm, opts.LLM, opts.Logger),
		targets:      slices.Clone(opts.Targets),
		fallback:     opts.Targets[0],
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger.With("agent", string(domain.AgentRouter)),
		bus:          opts.Bus,
	}
	r.prompt = r.buildPrompt(nil)
	return r
}

// SetTools replaces the external tools listed in the routing prompt.
func (r *Router) SetTools(tools []domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = slices.Clone(tools)
	r.prompt = r.buildPrompt(tools)
}

// Prompt returns the current system prompt.
func (r *Router) Prompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prompt
}

// Targets returns the selectable agents.
func (r *Router) Targets() []domain.AgentType { return slices.Clone(r.targets) }

func (r *Router) Describe() domain.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name()
	}
	return domain.AgentDescriptor{
		Type:         domain.AgentRouter,
		Name:         agent.DisplayName(domain.AgentRouter),
		SystemPrompt: r.prompt,
		Tools:        names,
	}
}

// Classify returns the agent for turn. It never returns the router itself and
// never fails: unparseable or failed classifications resolve to the default
// target before the image keyword override is applied.
func (r *Router) Classify(ctx context.Context, turn domain.Turn) domain.AgentType {
	ctx, span := tracer.StartSpan(ctx, "router.classify")
	defer span.End()

	history := turn.History
	if r.historyLimit > 0 && len(history) > r.historyLimit {
		history = history[len(history)-r.historyLimit:]
	}
	msgs := []domain.Message{domain.SystemMessage(r.Prompt())}
	for _, m := range history {
		if m.Role != domain.RoleSystem {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, domain.UserMessage(turn.Input))

	choice := r.fallback
	out, err := r.llm.Chat(ctx, msgs)
	if err != nil {
		r.logger.Warn("routing call failed, using default", "error", err, "default", r.fallback)
	} else {
		choice = r.Parse(out)
	}

	final := r.Override(choice, turn.Input)
	if final != choice {
		r.logger.Info("image keyword override", "classified", choice)
	}
	span.SetAttributes(tracer.StringAttr("route", string(final)))
	r.logger.Debug("routed", "route", final, "session_id", turn.SessionID)
	if r.bus != nil {
		r.bus.Publish(ctx, domain.NewEvent(domain.EventAgentRouted, turn.SessionID, map[string]string{
			"agent":      string(final),
			"classified": string(choice),
		}))
	}
	return final
}

// Parse extracts the ROUTE line from model output. Unknown or missing routes
// resolve to the default target.
func (r *Router) Parse(text string) domain.AgentType {
	loc := routeRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return r.fallback
	}
	t, ok := domain.ParseAgentType(text[loc[2]:loc[3]])
	if !ok {
		// "ROUTE: Voice Assistant" names the agent in two words.
		t, ok = domain.ParseAgentType(nameFrom(text[loc[2]:]))
	}
	if !ok || !slices.Contains(r.targets, t) {
		return r.fallback
	}
	return t
}

// Override applies the image keyword safety net to a default-slot choice.
func (r *Router) Override(choice domain.AgentType, input string) domain.AgentType {
	if choice == r.fallback && slices.Contains(r.targets, domain.AgentImage) && ImageRequested(input) {
		return domain.AgentImage
	}
	return choice
}

// ImageRequested reports whether input contains an image keyword.
func ImageRequested(input string) bool {
	lower := strings.ToLower(input)
	for _, kw := range ImageKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func nameFrom(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ']' || r == ')' || r == '"' || r == '\'' || r == '*' || r == '\n'
	})
	if len(fields) >= 2 {
		return fields[0] + "_" + fields[1]
	}
	return ""
}

func (r *Router) buildPrompt(tools []domain.Tool) string {
	var agents strings.Builder
	for i, t := range r.targets {
		if i > 0 {
			agents.WriteByte('\n')
		}
		agents.WriteString("- ")
		agents.WriteString(agent.DisplayName(t))
		agents.WriteString(": ")
		agents.WriteString(agentBlurbs[t])
	}
	prompt := strings.Replace(routerPrompt, "%AGENTS%", agents.String(), 1)
	if len(tools) == 0 {
		return prompt
	}

	names := make([]string, len(tools))
	var details strings.Builder
	for i, t := range tools {
		names[i] = t.Name()
		details.WriteString("\n- ")
		details.WriteString(t.Name())
		details.WriteString(": ")
		details.WriteString(t.Description())
	}
	return prompt + "\n\nAvailable MCP tools: " + strings.Join(names, ", ") +
		"\n\nMCP Tool Details:" + details.String()
}
