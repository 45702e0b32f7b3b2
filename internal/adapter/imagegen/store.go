// Package imagegen renders prompts into image files with a Gemini image
// model and keeps them in a directory served under /generated_images/.
package imagegen

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// FileStore writes generated files under a single directory with
// time-sortable names.
type FileStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger, now: time.Now}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

// Save writes data and returns the bare file name.
func (s *FileStore) Save(data []byte, mimeType string) (string, error) {
	name := strings.ToLower(ulid.Make().String()) + extensionFor(mimeType)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return name, nil
}

// Cleanup removes regular files last modified before now-maxAge and
// returns how many were removed.
func (s *FileStore) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read image dir: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Warn("image cleanup failed", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
