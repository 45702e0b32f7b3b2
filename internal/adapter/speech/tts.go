package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/config"
)

// ElevenLabs implements domain.TextToSpeech with the ElevenLabs
// text-to-speech endpoint.
type ElevenLabs struct {
	cfg    config.TTSConfig
	client *http.Client
	logger *slog.Logger
}

// NewElevenLabs creates a synthesizer. client may be nil.
func NewElevenLabs(cfg config.TTSConfig, client *http.Client, logger *slog.Logger) *ElevenLabs {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ElevenLabs{cfg: cfg, client: client, logger: logger}
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Synthesize implements domain.TextToSpeech. The audio encoding is the
// configured output format (mp3 by default).
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewDomainError("tts.synthesize", domain.ErrInvalidInput, "empty text")
	}
	if e.cfg.APIKey == "" {
		return nil, domain.NewDomainError("tts.synthesize", domain.ErrInvalidConfig, "tts api key is empty")
	}

	payload, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", domain.ErrSpeech, err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s", e.cfg.BaseURL, url.PathEscape(e.cfg.VoiceID))
	if e.cfg.OutputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(e.cfg.OutputFormat)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrSpeech, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	audio, err := do(e.client, req)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("speech synthesized", "chars", len(text), "bytes", len(audio))
	return audio, nil
}

var _ domain.TextToSpeech = (*ElevenLabs)(nil)
