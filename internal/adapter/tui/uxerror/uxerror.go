// Package uxerror turns turn failures into short messages with recovery
// hints for the terminal UI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"omni-agent/internal/adapter/tui/theme"
	"omni-agent/internal/domain"
)

// FriendlyError is a user-facing error.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render formats the error for the transcript.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.G.Bullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	{
		match: isAny(domain.ErrLLMUnavailable, domain.ErrCircuitOpen),
		produce: constantError("Model Unavailable", "The language model backend could not be reached.",
			[]string{"Check that the servers in llm.providers are running", "Wait a few seconds and retry; the breaker reopens on its own"}),
	},
	{
		match: isAny(domain.ErrLLMTimeout, domain.ErrTimeout),
		produce: constantError("Request Timed Out", "The request took too long to complete.",
			[]string{"Try a shorter prompt", "Increase llm.timeout in config"}),
	},
	{
		match: isAny(domain.ErrSessionNotFound),
		produce: constantError("Session Not Found", "The conversation session no longer exists.",
			[]string{"Run /new to start a fresh session"}),
	},
	{
		match: isAny(domain.ErrStepBudget),
		produce: constantError("Step Limit Reached", "The agents handed the request back and forth too many times.",
			[]string{"Rephrase the request more specifically"}),
	},
	{
		match: isAny(domain.ErrGraphCompile, domain.ErrInvalidConfig),
		produce: constantError("Configuration Error", "The agent graph could not be built from the configuration.",
			[]string{"Run 'omni serve' once to see the startup error", "Check agents.* in the config file"}),
	},
	{
		match: isAny(domain.ErrMCPNotInitialized, domain.ErrMCPClosed),
		produce: constantError("MCP Tools Unavailable", "The external tool servers are not connected.",
			[]string{"Check 'omni mcp list'", "Verify the MCP server commands or URLs"}),
	},
	{
		match: containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach a remote service.",
			[]string{"Check your network connection", "Verify the service URLs in config"}),
	},
	{
		match: containsAny("401", "unauthorized", "invalid api key", "authentication failed"),
		produce: constantError("Authentication Failed", "The API key or credentials were rejected.",
			[]string{"Check the api_key settings or their environment variables"}),
	},
	{
		match: containsAny("429", "rate limit", "too many requests"),
		produce: constantError("Rate Limited", "Too many requests were sent to a provider.",
			[]string{"Wait a moment before retrying"}),
	},
}

// Humanize converts err into a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: domain.SanitizeError(err),
		Hints:   []string{"Try again", "Run with --log-level debug for more details"},
		Raw:     err.Error(),
	}
}

func isAny(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// containsAny matches errors whose text contains any substring, ignoring case.
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{Title: title, Message: message, Hints: hints, Raw: err.Error()}
	}
}
