// Package speech adapts hosted speech services: transcription through an
// OpenAI-compatible audio API and synthesis through ElevenLabs.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/config"
)

const (
	defaultHTTPTimeout = 2 * time.Minute
	maxResponseBytes   = 16 * 1024 * 1024
)

// Transcriber implements domain.SpeechToText against /audio/transcriptions.
type Transcriber struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewTranscriber creates a transcriber. client may be nil.
func NewTranscriber(cfg config.STTConfig, client *http.Client, logger *slog.Logger) *Transcriber {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	return &Transcriber{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		client:  client,
		logger:  logger,
	}
}

// Transcribe implements domain.SpeechToText.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", domain.NewDomainError("stt.transcribe", domain.ErrInvalidInput, "empty audio")
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.wav"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := errors.Join(
		w.WriteField("model", t.model),
		w.WriteField("response_format", "json"),
	); err != nil {
		return "", fmt.Errorf("%w: build form: %v", domain.ErrSpeech, err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: build form: %v", domain.ErrSpeech, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("%w: build form: %v", domain.ErrSpeech, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: build form: %v", domain.ErrSpeech, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", domain.ErrSpeech, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	body, err := do(t.client, req)
	if err != nil {
		return "", err
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: parse transcription: %v", domain.ErrSpeech, err)
	}
	text := strings.TrimSpace(out.Text)
	t.logger.Debug("audio transcribed", "bytes", len(audio), "chars", len(text))
	return text, nil
}

// do sends req and returns the body of a 2xx response.
func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSpeech, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSpeech, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrSpeech, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrSpeech, resp.StatusCode, detail)
	}
	return body, nil
}

var _ domain.SpeechToText = (*Transcriber)(nil)
