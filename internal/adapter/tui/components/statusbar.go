package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"omni-agent/internal/adapter/tui/theme"
)

// KeyHint is one keybinding shown in the status bar.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel is the bottom line: key hints on the left, session and
// activity on the right.
type StatusBarModel struct {
	Hints   []KeyHint
	Session string
	Model   string
	Extra   string // e.g. "Thinking..."
	width   int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.BarKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Faint.Render("|")+"  ")

	var parts []string
	if m.Model != "" {
		parts = append(parts, m.Model)
	}
	if m.Session != "" {
		parts = append(parts, "session "+shortID(m.Session))
	}
	right := theme.Quiet.Render(strings.Join(parts, " "+theme.G.Bullet+" "))
	if m.Extra != "" {
		if right != "" {
			right += "  "
		}
		right += theme.Info.Render(m.Extra)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return theme.Bar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
