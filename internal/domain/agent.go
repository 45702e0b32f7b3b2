package domain

import (
	"context"
	"strings"
)

// AgentType identifies a node of the orchestration graph.
type AgentType string

const (
	AgentRouter         AgentType = "router"
	AgentAssistant      AgentType = "assistant"
	AgentMath           AgentType = "math"
	AgentResearch       AgentType = "research"
	AgentPlanning       AgentType = "planning"
	AgentImage          AgentType = "image"
	AgentRAG            AgentType = "rag"
	AgentVoiceAssistant AgentType = "voice_assistant"
)

// AllAgentTypes is the closed set of agent identifiers.
var AllAgentTypes = []AgentType{
	AgentRouter, AgentAssistant, AgentMath, AgentResearch,
	AgentPlanning, AgentImage, AgentRAG, AgentVoiceAssistant,
}

// ParseAgentType lower-cases s and reports whether it names a known agent.
func ParseAgentType(s string) (AgentType, bool) {
	t := AgentType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllAgentTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// AgentDescriptor is the static description of one agent.
type AgentDescriptor struct {
	Type         AgentType `json:"type"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	Tools        []string  `json:"tools,omitempty"`
}

// Turn is the input handed to an agent for one request.
type Turn struct {
	Input     string
	History   []Message
	SessionID string
}

// Delegation asks the graph to hand the turn to another agent.
type Delegation struct {
	Target AgentType `json:"target"`
	Reason string    `json:"reason,omitempty"`
}

// ToolFailure records a tool call that did not produce a usable result.
type ToolFailure struct {
	Tool string `json:"tool"`
	Err  string `json:"error"`
}

// AgentResult is what an agent returns for a turn. Err is set when the output
// is a degraded message produced after an internal failure.
type AgentResult struct {
	Output     string
	Artifacts  Artifacts
	Failures   []ToolFailure
	Delegation *Delegation
	Err        error
}

// Agent is one specialized node: a system prompt and a tool subset bound to
// the shared LLM. Invoke never panics on backend failures; it reports them
// through AgentResult.Err with a textual Output.
type Agent interface {
	Type() AgentType
	Describe() AgentDescriptor
	Invoke(ctx context.Context, turn Turn) AgentResult
}
