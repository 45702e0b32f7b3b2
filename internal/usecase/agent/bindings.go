package agent

import (
	"fmt"
	"slices"

	"omni-agent/internal/domain"
)

// Built-in tool names.
const (
	TimeToolName   = "get_time"
	SearchToolName = "web_search"
)

// Toolbox is the full tool set available to agents in one graph build.
type Toolbox struct {
	Builtin map[string]domain.Tool
	MCP     []domain.Tool
}

var builtinBindings = map[domain.AgentType][]string{
	domain.AgentAssistant:      {TimeToolName},
	domain.AgentVoiceAssistant: {TimeToolName},
	domain.AgentImage:          {ImageToolName},
	domain.AgentResearch:       {SearchToolName},
}

var mcpBound = []domain.AgentType{
	domain.AgentRouter, domain.AgentAssistant, domain.AgentResearch, domain.AgentPlanning,
}

// For returns the tools bound to agent type t. Missing built-ins are skipped.
func (tb Toolbox) For(t domain.AgentType) []domain.Tool {
	var out []domain.Tool
	for _, name := range builtinBindings[t] {
		if tool, ok := tb.Builtin[name]; ok {
			out = append(out, tool)
		}
	}
	if slices.Contains(mcpBound, t) {
		out = append(out, tb.MCP...)
	}
	return out
}

// Factory builds agents that share one LLM and option set.
type Factory struct {
	LLM       domain.LLMProvider
	Options   Options
	Retriever domain.Retriever
	RetrieveK int
}

// Build creates the agent for t from the toolbox. The router is built by
// the router package.
func (f Factory) Build(t domain.AgentType, tb Toolbox) (domain.Agent, error) {
	switch t {
	case domain.AgentAssistant, domain.AgentMath, domain.AgentResearch,
		domain.AgentPlanning, domain.AgentVoiceAssistant:
		return NewSpecialist(t, f.LLM, tb.For(t), f.Options), nil
	case domain.AgentImage:
		tool, ok := tb.Builtin[ImageToolName]
		if !ok {
			return nil, fmt.Errorf("build image agent: %w: %s", domain.ErrToolNotFound, ImageToolName)
		}
		return NewImageAgent(f.LLM, tool, f.Options), nil
	case domain.AgentRAG:
		if f.Retriever == nil {
			return nil, fmt.Errorf("build rag agent: retriever %w", domain.ErrDisabled)
		}
		return NewRAGAgent(f.LLM, f.Retriever, f.RetrieveK, f.Options), nil
	default:
		return nil, fmt.Errorf("build agent %q: %w", t, domain.ErrUnknownAgent)
	}
}
