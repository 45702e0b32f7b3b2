package domain

import (
	"fmt"
	"maps"
	"slices"
)

// Artifacts maps tool names (disambiguated as name_N for repeats) to results.
type Artifacts map[string]string

// ArtifactKey returns the key for the n-th call (1-based) of tool name in one pass.
func ArtifactKey(name string, n int) string {
	if n <= 1 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, n)
}

// Merge copies other into a, overwriting existing keys (last write wins).
func (a Artifacts) Merge(other Artifacts) Artifacts {
	if a == nil {
		a = make(Artifacts, len(other))
	}
	maps.Copy(a, other)
	return a
}

// Keys returns the artifact keys in sorted order.
func (a Artifacts) Keys() []string {
	return slices.Sorted(maps.Keys(a))
}

// ConversationState is the per-turn state carried between graph nodes.
// A state is owned by exactly one request and never shared.
type ConversationState struct {
	Input        string
	ChatHistory  []Message
	CurrentAgent AgentType
	Output       string
	Artifacts    Artifacts
	SessionID    string

	Steps     int
	Delegated bool
	Path      []string
	Err       error
}

// NewConversationState creates the initial state for a turn.
func NewConversationState(input string, history []Message, sessionID string) *ConversationState {
	return &ConversationState{
		Input:       input,
		ChatHistory: slices.Clone(history),
		Artifacts:   Artifacts{},
		SessionID:   sessionID,
	}
}
