package domain

import (
	"context"
	"time"
)

// MessageType classifies a persisted chat message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageError MessageType = "error"
)

// ChatSession is a persisted conversation thread.
type ChatSession struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	UserID       string         `json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	IsActive     bool           `json:"is_active"`
	Metadata     map[string]any `json:"metadata"`
	MessageCount int            `json:"message_count,omitempty"`
}

// ChatMessage is one persisted turn message. It belongs to exactly one session.
type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Type      MessageType    `json:"message_type"`
	Metadata  map[string]any `json:"metadata"`
	AgentType string         `json:"agent_type,omitempty"`
}

// NewSessionParams are the optional inputs of CreateSession.
type NewSessionParams struct {
	Title    string
	UserID   string
	Metadata map[string]any
}

// SessionUpdate carries optional session field changes; nil fields are left as is.
type SessionUpdate struct {
	Title    *string
	Metadata map[string]any
}

// SessionStore is the persistent chat-history store.
type SessionStore interface {
	CreateSession(ctx context.Context, p NewSessionParams) (*ChatSession, error)
	GetSession(ctx context.Context, id string) (*ChatSession, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]ChatSession, error)
	UpdateSession(ctx context.Context, id string, upd SessionUpdate) (*ChatSession, error)
	DeleteSession(ctx context.Context, id string) error
	AddMessage(ctx context.Context, msg *ChatMessage) (string, error)
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)
	Close() error
}

// DefaultSessionTitle is the title given to sessions created without one.
func DefaultSessionTitle(now time.Time) string {
	return "Chat " + now.Format("2006-01-02 15:04")
}
