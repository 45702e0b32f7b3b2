// Package theme is the palette of the terminal client. Every agent gets its
// own hue so a transcript shows at a glance who answered what.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"omni-agent/internal/domain"
)

// Palette. lipgloss picks Light or Dark from the terminal background and
// drops colors entirely under NO_COLOR.
var (
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#64b5f6"}
	ColorFailure = lipgloss.AdaptiveColor{Light: "#b71c1c", Dark: "#e57373"}
	ColorLink    = lipgloss.AdaptiveColor{Light: "#00838f", Dark: "#4dd0e1"}
	ColorQuiet   = lipgloss.AdaptiveColor{Light: "#6d6d6d", Dark: "#a0a0a0"}
	ColorRule    = lipgloss.AdaptiveColor{Light: "#c8c8c8", Dark: "#555555"}
	ColorBar     = lipgloss.AdaptiveColor{Light: "#eeeeee", Dark: "#262626"}
)

var agentHues = map[domain.AgentType]lipgloss.AdaptiveColor{
	domain.AgentAssistant:      {Light: "#00695c", Dark: "#4db6ac"},
	domain.AgentMath:           {Light: "#6a1b9a", Dark: "#ce93d8"},
	domain.AgentResearch:       {Light: "#1565c0", Dark: "#90caf9"},
	domain.AgentPlanning:       {Light: "#e65100", Dark: "#ffb74d"},
	domain.AgentImage:          {Light: "#ad1457", Dark: "#f48fb1"},
	domain.AgentRAG:            {Light: "#2e7d32", Dark: "#a5d6a7"},
	domain.AgentVoiceAssistant: {Light: "#4527a0", Dark: "#b39ddb"},
}

var (
	Faint       = lipgloss.NewStyle().Faint(true)
	Quiet       = lipgloss.NewStyle().Foreground(ColorQuiet)
	Info        = lipgloss.NewStyle().Foreground(ColorInfo)
	Link        = lipgloss.NewStyle().Foreground(ColorLink).Underline(true)
	Failure     = lipgloss.NewStyle().Foreground(ColorFailure).Bold(true)
	Speaker     = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	Bar         = lipgloss.NewStyle().Foreground(ColorQuiet).Background(ColorBar).Padding(0, 1)
	BarKey      = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	Prompt      = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	Placeholder = lipgloss.NewStyle().Foreground(ColorQuiet).Faint(true)
)

// AgentBadge renders the display name of agent in its hue. Unknown or
// empty agents render as "Omni".
func AgentBadge(agent string) string {
	t, ok := domain.ParseAgentType(agent)
	if !ok {
		return Speaker.Render("Omni")
	}
	style := lipgloss.NewStyle().Bold(true)
	if hue, ok := agentHues[t]; ok {
		style = style.Foreground(hue)
	}
	return style.Render(AgentName(t))
}

// AgentName is the human name of an agent type: "voice_assistant" becomes
// "Voice assistant", "rag" becomes "Documents".
func AgentName(t domain.AgentType) string {
	if t == domain.AgentRAG {
		return "Documents"
	}
	name := strings.ReplaceAll(string(t), "_", " ")
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
