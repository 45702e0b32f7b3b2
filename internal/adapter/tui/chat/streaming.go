package chat

import "time"

// StreamSpeed controls how fast answers are revealed.
type StreamSpeed int

const (
	StreamInstant StreamSpeed = iota
	StreamFast                // 32 runes per tick
	StreamNormal              // 8 runes per tick
)

func (s StreamSpeed) String() string {
	switch s {
	case StreamInstant:
		return "instant"
	case StreamFast:
		return "fast"
	case StreamNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// StreamConfig is the reveal rate.
type StreamConfig struct {
	Speed     StreamSpeed
	ChunkSize int // runes per tick; 0 reveals everything at once
	TickRate  time.Duration
}

// StreamConfigForSpeed returns the preset for s.
func StreamConfigForSpeed(s StreamSpeed) StreamConfig {
	switch s {
	case StreamInstant:
		return StreamConfig{Speed: StreamInstant}
	case StreamFast:
		return StreamConfig{Speed: StreamFast, ChunkSize: 32, TickRate: 16 * time.Millisecond}
	default:
		return StreamConfig{Speed: StreamNormal, ChunkSize: 8, TickRate: 16 * time.Millisecond}
	}
}

// Next cycles normal, fast, instant.
func (s StreamSpeed) Next() StreamSpeed {
	switch s {
	case StreamNormal:
		return StreamFast
	case StreamFast:
		return StreamInstant
	default:
		return StreamNormal
	}
}
