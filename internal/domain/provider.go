package domain

import "context"

// LLMProvider is the interface for any LLM backend. Implementations must be
// safe for concurrent use: one provider instance serves every request.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "gemini", "ollama").
	Name() string
}

// ImageGenerator turns a text prompt into an image file.
type ImageGenerator interface {
	// Generate renders prompt and returns the stored file name (not a path).
	Generate(ctx context.Context, prompt string) (string, error)
}

// Passage is one ranked document chunk returned by a Retriever.
type Passage struct {
	Content string            `json:"content"`
	Score   float32           `json:"score"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Retriever maps a query to ranked text passages.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// EmbeddingProvider is the interface for text embedding backends.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// SpeechToText transcribes audio into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// TextToSpeech synthesizes speech audio for text.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
