package components

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"omni-agent/internal/adapter/tui/theme"
	"omni-agent/internal/domain"
)

// Speaker says who produced a transcript entry.
type Speaker int

const (
	SpeakerUser Speaker = iota
	SpeakerAgent
	SpeakerNotice
	SpeakerFailure
)

// Entry is one block of the conversation.
type Entry struct {
	Speaker Speaker
	Text    string
	// Agent is the agent type that answered; empty for everything else.
	Agent string
	Image string
	Tools []string
	At    time.Time
	// Took is how long the turn ran, shown next to the answer.
	Took time.Duration

	painted string
}

// Transcript is the scrollable conversation pane. It stays pinned to the
// newest entry until the user scrolls up, and pins again at the bottom.
type Transcript struct {
	// Limit keeps only the newest entries when positive.
	Limit int
	// ImageBase is prefixed to generated image paths.
	ImageBase string

	entries []Entry
	dropped int

	pane   viewport.Model
	sized  bool
	pinned bool
	width  int
	md     *glamour.TermRenderer
}

// NewTranscript creates an empty pane. It draws nothing useful until Resize.
func NewTranscript() Transcript {
	return Transcript{pinned: true}
}

// Entries returns the entries currently held.
func (t *Transcript) Entries() []Entry { return t.entries }

// Append adds e, stamping it with the current time when At is unset.
func (t *Transcript) Append(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	t.entries = append(t.entries, e)
	if over := len(t.entries) - t.Limit; t.Limit > 0 && over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
		t.dropped += over
	}
	t.repaint()
}

// Reveal replaces the text of the newest entry. Answers are revealed
// progressively through it.
func (t *Transcript) Reveal(text string) {
	if len(t.entries) == 0 {
		return
	}
	last := &t.entries[len(t.entries)-1]
	last.Text = text
	last.painted = ""
	t.repaint()
}

// Reset empties the pane.
func (t *Transcript) Reset() {
	t.entries = nil
	t.dropped = 0
	t.pinned = true
	t.repaint()
	t.pane.GotoTop()
}

// Resize fits the pane to w x h cells. A width change repaints every entry.
func (t *Transcript) Resize(w, h int) {
	if !t.sized {
		t.pane = viewport.New(w, h)
		t.sized = true
	}
	t.pane.Width, t.pane.Height = w, h
	if w != t.width {
		t.width = w
		t.md = nil
		for i := range t.entries {
			t.entries[i].painted = ""
		}
	}
	t.repaint()
}

// Update scrolls the pane.
func (t Transcript) Update(msg tea.Msg) (Transcript, tea.Cmd) {
	if !t.sized {
		return t, nil
	}
	var cmd tea.Cmd
	t.pane, cmd = t.pane.Update(msg)
	t.pinned = t.pane.AtBottom()
	return t, cmd
}

func (t Transcript) View() string {
	if !t.sized {
		return "  Initializing..."
	}
	return t.pane.View()
}

func (t *Transcript) repaint() {
	if !t.sized {
		return
	}
	t.pane.SetContent(t.render())
	if t.pinned {
		t.pane.GotoBottom()
	}
}

func (t *Transcript) render() string {
	if len(t.entries) == 0 {
		return theme.Quiet.Render("  Ask anything. /help lists the commands.")
	}
	width := textWidth(t.width)
	blocks := make([]string, 0, len(t.entries)+1)
	if t.dropped > 0 {
		blocks = append(blocks, theme.Faint.Render(fmt.Sprintf("  %d earlier entries not shown", t.dropped)))
	}
	for i := range t.entries {
		e := &t.entries[i]
		if e.painted == "" {
			e.painted = t.paint(e, width)
		}
		blocks = append(blocks, e.painted)
	}
	return strings.Join(blocks, "\n\n")
}

func (t *Transcript) paint(e *Entry, width int) string {
	lines := []string{header(e)}
	indent := lipgloss.NewStyle().PaddingLeft(2).Width(width)

	switch e.Speaker {
	case SpeakerAgent:
		body, sources := splitSources(e.Text)
		if body = strings.TrimSpace(body); body != "" {
			lines = append(lines, t.markdown(body, width))
		}
		if len(sources) > 0 {
			lines = append(lines, sourceFooter(sources))
		}
	case SpeakerFailure:
		lines = append(lines, indent.Render(theme.Failure.Render(e.Text)))
	case SpeakerNotice:
		lines = append(lines, indent.Render(theme.Quiet.Render(e.Text)))
	default:
		if e.Text != "" {
			lines = append(lines, indent.Render(e.Text))
		}
	}
	if e.Image != "" {
		lines = append(lines, "  "+theme.G.Image+" "+theme.Link.Render(t.ImageBase+e.Image))
	}
	return strings.Join(lines, "\n")
}

// header is the one-line caption of an entry: speaker, clock, and for
// answers the turn duration and tools consulted.
func header(e *Entry) string {
	var who string
	switch e.Speaker {
	case SpeakerUser:
		who = theme.Speaker.Render("You")
	case SpeakerAgent:
		who = theme.AgentBadge(e.Agent)
	case SpeakerFailure:
		who = theme.Failure.Render(theme.G.Fail + " Failed")
	default:
		who = theme.Quiet.Render("Notice")
	}
	meta := []string{e.At.Format("15:04")}
	if e.Took > 0 {
		meta = append(meta, formatTook(e.Took))
	}
	line := who + " " + theme.Faint.Render(strings.Join(meta, " "+theme.G.Dot+" "))
	if len(e.Tools) > 0 {
		line += "\n  " + theme.Faint.Render(theme.G.Arrow+" "+strings.Join(e.Tools, ", "))
	}
	return line
}

func (t *Transcript) markdown(text string, width int) string {
	if t.md == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
			glamour.WithPreservedNewLines(),
		)
		if err != nil {
			return lipgloss.NewStyle().PaddingLeft(2).Width(width).Render(text)
		}
		t.md = r
	}
	out, err := t.md.Render(text)
	if err != nil {
		return lipgloss.NewStyle().PaddingLeft(2).Width(width).Render(text)
	}
	return strings.Trim(out, "\n")
}

var footerLineRe = regexp.MustCompile(`^\[(\d+)\] (.*) - (\S+)$`)

// splitSources separates a trailing "Sources:" list from an answer. The
// text is returned whole when the list does not parse.
func splitSources(text string) (string, []domain.Source) {
	i := strings.LastIndex(text, "\n\nSources:\n")
	if i < 0 {
		return text, nil
	}
	var sources []domain.Source
	for _, line := range strings.Split(strings.TrimSpace(text[i+len("\n\nSources:\n"):]), "\n") {
		m := footerLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			return text, nil
		}
		n, _ := strconv.Atoi(m[1])
		sources = append(sources, domain.Source{Index: n, Title: m[2], URL: m[3]})
	}
	return text[:i], sources
}

func sourceFooter(sources []domain.Source) string {
	lines := []string{"  " + theme.Quiet.Render("Sources")}
	for _, s := range sources {
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			theme.Faint.Render(fmt.Sprintf("[%d]", s.Index)), s.Title, theme.Link.Render(s.URL)))
	}
	return strings.Join(lines, "\n")
}

func formatTook(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// textWidth is the wrap width for a pane width, kept between 40 and 100.
func textWidth(paneWidth int) int {
	return min(max(paneWidth-4, 40), 100)
}

// Rule renders a full-width separator line.
func Rule(width int) string {
	return lipgloss.NewStyle().Foreground(theme.ColorRule).Render(strings.Repeat(theme.G.Rule, max(width, 0)))
}
