package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"omni-agent/internal/domain"
	"omni-agent/internal/usecase/chat"
)

// processCmd runs one turn in the background under a cancellable context.
func processCmd(ctx context.Context, p Processor, in chat.Input, gen uint64) tea.Cmd {
	return func() tea.Msg {
		out, err := p.Process(ctx, in)
		return TurnDoneMsg{Out: out, Err: err, Gen: gen}
	}
}

// loadHistoryCmd reads the latest messages of a session.
func loadHistoryCmd(store domain.SessionStore, sessionID string, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := store.GetSession(ctx, sessionID); err != nil {
			return HistoryMsg{Err: err}
		}
		msgs, err := store.RecentMessages(ctx, sessionID, limit)
		return HistoryMsg{Messages: msgs, Err: err}
	}
}

// streamTickCmd fires a StreamTickMsg after rate.
func streamTickCmd(rate time.Duration) tea.Cmd {
	if rate <= 0 {
		rate = 16 * time.Millisecond
	}
	return tea.Tick(rate, func(time.Time) tea.Msg {
		return StreamTickMsg{}
	})
}
