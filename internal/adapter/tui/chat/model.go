package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"omni-agent/internal/adapter/tui/components"
	"omni-agent/internal/adapter/tui/theme"
	"omni-agent/internal/adapter/tui/uxerror"
	"omni-agent/internal/domain"
	"omni-agent/internal/usecase/chat"
)

const historyLoadLimit = 50

// Processor runs one conversation turn.
type Processor interface {
	Process(ctx context.Context, in chat.Input) (chat.Output, error)
}

// ModelDeps are the chat screen's collaborators.
type ModelDeps struct {
	Chat Processor
	// Sessions enables /history. Nil when memory is disabled.
	Sessions domain.SessionStore
	// SessionID resumes an existing session when set.
	SessionID string
	ModelName string
	// ImageBaseURL is prefixed to generated image paths, e.g. the gateway address.
	ImageBaseURL string
	Logger       *slog.Logger
}

// Model is the root Bubble Tea model of the chat screen.
type Model struct {
	deps ModelDeps

	chatView  components.Transcript
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model

	sessionID string

	waiting   bool
	streaming bool
	streamBuf []rune
	streamPos int
	streamCfg StreamConfig
	width     int
	height    int
	quitting  bool

	// gen increments on every turn; results carrying an older gen are dropped.
	gen      uint64
	cancelFn context.CancelFunc
	// started is when the running turn was submitted.
	started time.Time
}

// NewModel creates the chat screen.
func NewModel(deps ModelDeps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	sb := components.NewStatusBar()
	sb.Model = deps.ModelName
	sb.Session = deps.SessionID
	sb.Hints = defaultHints()

	cv := components.NewTranscript()
	cv.Limit = 1000
	cv.ImageBase = deps.ImageBaseURL

	return Model{
		deps:      deps,
		chatView:  cv,
		input:     components.NewInputArea(),
		statusBar: sb,
		spinner:   s,
		sessionID: deps.SessionID,
		streamCfg: StreamConfigForSpeed(StreamNormal),
	}
}

// SessionID returns the session the screen is talking in.
func (m Model) SessionID() string { return m.sessionID }

// Init starts the spinner and loads the resumed session's history.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.sessionID != "" && m.deps.Sessions != nil {
		cmds = append(cmds, loadHistoryCmd(m.deps.Sessions, m.sessionID, historyLoadLimit))
	}
	return tea.Batch(cmds...)
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case TurnDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		return m.handleTurnDone(msg)

	case HistoryMsg:
		return m.handleHistory(msg), nil

	case StreamTickMsg:
		return m.handleStreamTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.waiting {
		if _, isMouse := msg.(tea.MouseMsg); !isMouse {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = theme.Faint.Render("> waiting for response...") + "\n" + m.spinner.View() + " " + m.statusBar.Extra
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		components.Rule(m.width),
		inputView,
		m.statusBar.View(),
	)
}

func (m *Model) layout() {
	const inputH, statusH, dividerH = 3, 1, 1
	contentH := m.height - inputH - statusH - dividerH
	if contentH < 5 {
		contentH = 5
	}
	m.statusBar.SetWidth(m.width)
	m.chatView.Resize(m.width, contentH)
	m.input.SetWidth(m.width)
}

// handleKey reports whether the key was consumed.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil, true
	}
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelTurn("Request cancelled.")
			return m, nil, true
		}
		m.quitting = true
		return m, tea.Quit, true
	case tea.KeyEsc:
		if m.streaming {
			m.finishStream()
			return m, nil, true
		}
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd, true
	}
	return m, nil, false
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}

	if m.cancelFn != nil {
		m.cancelFn()
	}

	m.chatView.Append(components.Entry{Speaker: components.SpeakerUser, Text: value})

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel
	m.started = time.Now()

	m.waiting = true
	m.streaming = false
	m.input.SetEnabled(false)
	m.statusBar.Extra = theme.G.Busy + " Thinking..."

	return m, processCmd(ctx, m.deps.Chat, chat.Input{Message: value, SessionID: m.sessionID}, m.gen)
}

func (m Model) handleTurnDone(msg TurnDoneMsg) (tea.Model, tea.Cmd) {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	if msg.Err != nil {
		m.deps.Logger.Debug("turn failed", "error", msg.Err)
		if !errors.Is(msg.Err, context.Canceled) {
			m.chatView.Append(components.Entry{
				Speaker: components.SpeakerFailure,
				Text:    uxerror.Humanize(msg.Err).Render(),
			})
		}
		m.resetInput()
		return m, nil
	}

	out := msg.Out
	if out.SessionID != "" {
		m.sessionID = out.SessionID
		m.statusBar.Session = out.SessionID
	}

	if out.Err != nil {
		m.deps.Logger.Debug("turn degraded", "error", out.Err, "session_id", m.sessionID)
		if chat.IsBackendFailure(out.Err) {
			m.system(uxerror.Humanize(out.Err).Title + " (" + string(domain.ErrorCodeOf(out.Err)) + ")")
		}
	}

	// The answer is revealed into this last message.
	m.chatView.Append(components.Entry{
		Speaker: components.SpeakerAgent,
		Agent:   string(out.Agent),
		Image:   out.Image,
		Tools:   out.Artifacts.Keys(),
		Took:    time.Since(m.started),
	})

	if m.streamCfg.ChunkSize == 0 {
		m.chatView.Reveal(out.Response)
		m.resetInput()
		return m, nil
	}
	m.streamBuf = []rune(out.Response)
	m.streamPos = 0
	m.streaming = true
	return m, streamTickCmd(m.streamCfg.TickRate)
}

func (m Model) handleHistory(msg HistoryMsg) Model {
	if msg.Err != nil {
		m.chatView.Append(components.Entry{
			Speaker: components.SpeakerFailure,
			Text:    uxerror.Humanize(msg.Err).Render(),
		})
		return m
	}
	for _, stored := range msg.Messages {
		e := components.Entry{Text: stored.Content, At: stored.Timestamp}
		switch {
		case stored.Role == domain.RoleUser:
			e.Speaker = components.SpeakerUser
		case stored.Type == domain.MessageError:
			e.Speaker = components.SpeakerFailure
		default:
			e.Speaker = components.SpeakerAgent
			e.Agent = stored.AgentType
			if img, ok := stored.Metadata["image"].(string); ok {
				e.Image = img
			}
		}
		m.chatView.Append(e)
	}
	if len(msg.Messages) > 0 {
		m.system(fmt.Sprintf("Loaded %d earlier messages.", len(msg.Messages)))
	}
	return m
}

func (m Model) handleStreamTick() (tea.Model, tea.Cmd) {
	if !m.streaming {
		return m, nil
	}
	m.streamPos = min(m.streamPos+m.streamCfg.ChunkSize, len(m.streamBuf))
	m.chatView.Reveal(string(m.streamBuf[:m.streamPos]))
	if m.streamPos >= len(m.streamBuf) {
		m.streaming = false
		m.resetInput()
		return m, nil
	}
	return m, streamTickCmd(m.streamCfg.TickRate)
}

func (m *Model) finishStream() {
	m.chatView.Reveal(string(m.streamBuf))
	m.streamPos = len(m.streamBuf)
	m.streaming = false
	m.resetInput()
}

func (m Model) handleSlashCommand(cmd string, _ []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.system(`Commands:
  /new       - Start a new session
  /clear     - Clear the screen (the session is kept)
  /session   - Show the current session id
  /history   - Reload this session's stored messages
  /speed     - Cycle answer reveal speed (normal/fast/instant)
  /cancel    - Cancel the running request
  /quit      - Exit

Keys:
  Enter send, Alt+Enter newline, Up/Down recall input,
  PgUp/PgDn scroll, Esc skip reveal, Ctrl+C cancel or quit`)
	case "/new":
		m.sessionID = ""
		m.statusBar.Session = ""
		m.chatView.Reset()
		m.system("Started a new session.")
	case "/clear":
		m.chatView.Reset()
	case "/session":
		if m.sessionID == "" {
			m.system("No session yet; one is created with your first message.")
		} else {
			m.system("Session: " + m.sessionID)
		}
	case "/history":
		switch {
		case m.deps.Sessions == nil:
			m.system("History is unavailable: memory is disabled.")
		case m.sessionID == "":
			m.system("No session yet.")
		default:
			m.chatView.Reset()
			return m, loadHistoryCmd(m.deps.Sessions, m.sessionID, historyLoadLimit)
		}
	case "/speed":
		m.streamCfg = StreamConfigForSpeed(m.streamCfg.Speed.Next())
		m.system("Reveal speed: " + m.streamCfg.Speed.String())
	case "/cancel":
		if m.waiting {
			m.cancelTurn("Request cancelled.")
		} else {
			m.system("Nothing to cancel.")
		}
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	default:
		m.system("Unknown command " + cmd + ". Type /help.")
	}
	return m, nil
}

func (m *Model) system(text string) {
	m.chatView.Append(components.Entry{Speaker: components.SpeakerNotice, Text: text})
}

// cancelTurn aborts the running turn and bumps gen so its result is dropped.
func (m *Model) cancelTurn(reason string) {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.gen++
	m.streaming = false
	m.resetInput()
	m.system(reason)
}

func (m *Model) resetInput() {
	m.waiting = false
	m.input.SetEnabled(true)
	m.statusBar.Extra = ""
	m.statusBar.Hints = defaultHints()
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Alt+Enter", Desc: "Newline"},
		{Key: "/help", Desc: "Commands"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}

// isMouseEscapeLeak reports mouse escape sequences (SGR, X11, URXVT) that
// some terminals deliver as key input during fast scrolling.
func isMouseEscapeLeak(s string) bool {
	digitsOnly := func(r string) bool {
		for _, c := range r {
			if c != ';' && (c < '0' || c > '9') {
				return false
			}
		}
		return true
	}
	switch {
	case len(s) >= 5 && s[0] == '<' && (s[len(s)-1] == 'M' || s[len(s)-1] == 'm'):
		return digitsOnly(s[1 : len(s)-1])
	case len(s) >= 2 && s[0] == '[' && (s[1] == 'M' || s[1] == 'm'):
		return true
	case len(s) >= 5 && s[0] == '[' && s[len(s)-1] == 'M':
		return digitsOnly(s[1 : len(s)-1])
	}
	return false
}
