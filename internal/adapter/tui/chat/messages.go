// Package chat is the Bubble Tea chat screen of the terminal client.
package chat

import (
	"omni-agent/internal/domain"
	"omni-agent/internal/usecase/chat"
)

// TurnDoneMsg carries the result of one turn. Gen identifies the request so
// results of cancelled turns are discarded.
type TurnDoneMsg struct {
	Out chat.Output
	Err error
	Gen uint64
}

// HistoryMsg carries stored messages of the resumed session.
type HistoryMsg struct {
	Messages []domain.ChatMessage
	Err      error
}

// StreamTickMsg drives progressive rendering of a finished answer.
type StreamTickMsg struct{}
