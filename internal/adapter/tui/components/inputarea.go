package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"omni-agent/internal/adapter/tui/theme"
)

const maxInputHistory = 100

// InputSubmitMsg is sent when the user submits a non-blank input.
type InputSubmitMsg struct {
	Value string
}

// InputAreaModel wraps a textarea with submit handling and a recall
// history on Up/Down.
type InputAreaModel struct {
	Textarea textarea.Model
	Enabled  bool
	history  []string
	recall   int // index into history while recalling; len(history) when not
	width    int
}

// NewInputArea creates a focused input area.
func NewInputArea() InputAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Ask anything, or /help"
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.Prompt
	ta.FocusedStyle.Placeholder = theme.Placeholder
	ta.Focus()

	return InputAreaModel{Textarea: ta, Enabled: true}
}

// SetWidth updates the textarea width.
func (m *InputAreaModel) SetWidth(w int) {
	m.width = w
	m.Textarea.SetWidth(w - 2)
}

// SetEnabled enables or disables input while a turn is running.
func (m *InputAreaModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Textarea.Focus()
	} else {
		m.Textarea.Blur()
	}
}

// Value returns the current input text.
func (m InputAreaModel) Value() string {
	return m.Textarea.Value()
}

// History returns the submitted inputs, oldest first.
func (m InputAreaModel) History() []string {
	return m.history
}

// ParseSlashCommand splits "/cmd a b" into "/cmd" and its args.
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}

// Update handles keys. Enter submits; Alt+Enter inserts a newline.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.Type {
		case tea.KeyEnter:
			if keyMsg.Alt {
				break
			}
			value := strings.TrimSpace(m.Textarea.Value())
			if value == "" {
				return m, nil
			}
			m.remember(value)
			m.Textarea.Reset()
			return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
		case tea.KeyUp:
			if m.Textarea.Line() == 0 && m.recall > 0 {
				m.recall--
				m.Textarea.SetValue(m.history[m.recall])
				return m, nil
			}
		case tea.KeyDown:
			if m.recall < len(m.history) && m.Textarea.Line() == m.Textarea.LineCount()-1 {
				m.recall++
				if m.recall == len(m.history) {
					m.Textarea.Reset()
				} else {
					m.Textarea.SetValue(m.history[m.recall])
				}
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)
	return m, cmd
}

func (m *InputAreaModel) remember(value string) {
	if n := len(m.history); n == 0 || m.history[n-1] != value {
		m.history = append(m.history, value)
		if len(m.history) > maxInputHistory {
			m.history = m.history[len(m.history)-maxInputHistory:]
		}
	}
	m.recall = len(m.history)
}

// View renders the textarea.
func (m InputAreaModel) View() string {
	return m.Textarea.View()
}
