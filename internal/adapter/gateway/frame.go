package gateway

import "encoding/json"

// FrameType identifies the kind of JSON frame sent over a WebSocket.
type FrameType string

const (
	FrameTypeEvent      FrameType = "event"
	FrameTypeTranscript FrameType = "transcript"
	FrameTypeResponse   FrameType = "response"
	FrameTypeError      FrameType = "error"
)

// Frame is the JSON envelope written to WebSocket clients. Audio replies on
// /ws/conversation are sent as binary messages instead.
type Frame struct {
	Type      FrameType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}
