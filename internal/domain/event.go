package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageReceived   EventType = "message.received"
	EventMessageStored     EventType = "message.stored"
	EventAgentRouted       EventType = "agent.routed"
	EventAgentDelegated    EventType = "agent.delegated"
	EventAgentError        EventType = "agent.error"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventToolCallFailed    EventType = "tool.call.failed"
	EventSessionCreated    EventType = "session.created"
	EventSessionDegraded   EventType = "session.degraded"
	EventSessionDeleted    EventType = "session.deleted"
	EventMCPReloaded       EventType = "mcp.reloaded"
	EventImageGenerated    EventType = "image.generated"
	EventMaintenanceRun    EventType = "maintenance.run"
)

// Event is the envelope published on the event bus.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus is a publish/subscribe bus for domain events.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
	Close()
}

// NewEvent marshals payload into an Event stamped with the current time.
func NewEvent(eventType EventType, sessionID string, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	return Event{Type: eventType, Timestamp: time.Now(), SessionID: sessionID, Payload: raw}
}

type sessionIDKey struct{}

// ContextWithSessionID attaches the session id to ctx for logging and events.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id stored by ContextWithSessionID.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
