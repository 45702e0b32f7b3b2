package imagegen

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"omni-agent/internal/domain"
)

func newTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeModels struct {
	resp   *genai.GenerateContentResponse
	err    error
	model  string
	prompt string
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func imageResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "images"), newTestLogger())
	require.NoError(t, err)
	return s
}

func TestGeminiGeneratorSavesImage(t *testing.T) {
	store := newStore(t)
	models := &fakeModels{resp: imageResponse(
		&genai.Part{Text: "here you go"},
		&genai.Part{InlineData: &genai.Blob{Data: []byte("PNGDATA"), MIMEType: "image/png"}},
	)}
	g := newGeminiGenerator(models, "image-model", store, newTestLogger())

	name, err := g.Generate(context.Background(), "a lighthouse at dusk")
	require.NoError(t, err)
	assert.Equal(t, "image-model", models.model)
	assert.Equal(t, "a lighthouse at dusk", models.prompt)
	assert.True(t, strings.HasSuffix(name, ".png"))
	assert.NotContains(t, name, "/")

	data, err := os.ReadFile(filepath.Join(store.Dir(), name))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
}

func TestGeminiGeneratorErrors(t *testing.T) {
	tests := []struct {
		name   string
		models *fakeModels
		want   string
	}{
		{"api error", &fakeModels{err: errors.New("quota")}, "quota"},
		{"text only", &fakeModels{resp: imageResponse(&genai.Part{Text: "I cannot draw that"})}, "I cannot draw that"},
		{"empty", &fakeModels{resp: &genai.GenerateContentResponse{}}, "no image in response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGeminiGenerator(tt.models, "m", newStore(t), newTestLogger())
			_, err := g.Generate(context.Background(), "x")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrImageGeneration)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewGeminiGeneratorRequiresKey(t *testing.T) {
	_, err := NewGeminiGenerator(context.Background(), "", "m", nil, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestFileStoreCleanup(t *testing.T) {
	store := newStore(t)
	old, err := store.Save([]byte("old"), "image/jpeg")
	require.NoError(t, err)
	fresh, err := store.Save([]byte("new"), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(old, ".jpg"))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), old), past, past))

	removed, err := store.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(store.Dir(), old))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(store.Dir(), fresh))
	assert.NoError(t, err)
}
