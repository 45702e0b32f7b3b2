// Package document extracts text from uploaded documents so it can be
// handed to the agents as part of the prompt.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"omni-agent/internal/domain"
)

// PDFReader extracts the text of PDF files page by page.
type PDFReader struct {
	maxChars int
	logger   *slog.Logger
}

// NewPDFReader creates a reader. maxChars caps the returned text (0 = no cap).
func NewPDFReader(maxChars int, logger *slog.Logger) *PDFReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFReader{maxChars: maxChars, logger: logger}
}

// ReadFile extracts the text of the PDF at path.
func (r *PDFReader) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", domain.NewDomainError("document.read", domain.ErrNotFound, "PDF file not found")
	}
	if err != nil {
		return "", fmt.Errorf("document.read: %w", err)
	}
	text, err := r.Extract(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	r.logger.Info("pdf text extracted", "path", path, "chars", len(text))
	return text, nil
}

// Extract returns the text of every page, each introduced by a
// "--- Page N ---" line. A document without any text yields "".
func (r *PDFReader) Extract(src io.ReaderAt, size int64) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if p := recover(); p != nil {
			text, err = "", domain.NewDomainError("document.extract", domain.ErrInvalidInput, fmt.Sprintf("malformed PDF: %v", p))
		}
	}()

	doc, err := pdf.NewReader(src, size)
	if err != nil {
		return "", domain.NewDomainError("document.extract", domain.ErrInvalidInput, "not a readable PDF: "+err.Error())
	}

	var b strings.Builder
	found := false
	for n := 1; n <= doc.NumPage(); n++ {
		fmt.Fprintf(&b, "\n\n--- Page %d ---\n\n", n)
		page := doc.Page(n)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			r.logger.Warn("pdf page skipped", "page", n, "error", err)
			continue
		}
		content = strings.TrimSpace(content)
		found = found || content != ""
		b.WriteString(content)
		if r.maxChars > 0 && b.Len() >= r.maxChars {
			break
		}
	}
	if !found {
		return "", nil
	}
	return clip(strings.TrimSpace(b.String()), r.maxChars), nil
}

func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "\n\n[truncated]"
}
