package gateway

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"omni-agent/internal/domain"
	"omni-agent/internal/usecase/chat"
)

const uploadedFilesURL = "/uploaded_files/"

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the body of /chat and /chat-with-image.
type ChatResponse struct {
	Response  string `json:"response"`
	Image     string `json:"image,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runTurn(w, r, chat.Input{Message: req.Message, SessionID: req.SessionID}, "")
}

func (s *Server) handleChatWithImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing form field: image")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	name := "file_" + strings.ToLower(ulid.Make().String()) + ext
	if err := s.saveUpload(name, file); err != nil {
		s.logger.Error("upload save failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	fileURL := uploadedFilesURL + name

	isPDF := isPDFUpload(header.Header.Get("Content-Type"), ext)
	message := strings.TrimSpace(r.FormValue("text"))
	if message == "" {
		message = defaultUploadPrompt(isPDF, fileURL)
	}
	if isPDF {
		message = s.withPDFText(message, name)
	}

	s.runTurn(w, r, chat.Input{
		Message:    message,
		SessionID:  r.FormValue("session_id"),
		Attachment: fileURL,
	}, fileURL)
}

func (s *Server) saveUpload(name string, src io.Reader) error {
	if err := os.MkdirAll(s.deps.UploadsDir, 0o755); err != nil {
		return err
	}
	dst, err := os.OpenFile(filepath.Join(s.deps.UploadsDir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func isPDFUpload(contentType, ext string) bool {
	return strings.Contains(contentType, "pdf") || ext == ".pdf"
}

func defaultUploadPrompt(isPDF bool, fileURL string) string {
	if isPDF {
		return "I've uploaded this PDF document. Can you help me analyze it? " + fileURL
	}
	return "I've uploaded this image. Can you describe what you see?"
}

// withPDFText appends the text of the uploaded PDF to message. When no text
// can be extracted the message is left as is and the agents only see the URL.
func (s *Server) withPDFText(message, name string) string {
	if s.deps.PDF == nil {
		return message
	}
	text, err := s.deps.PDF.ReadFile(filepath.Join(s.deps.UploadsDir, name))
	if err != nil {
		s.logger.Warn("pdf text extraction failed", "file", name, "error", err)
		return message
	}
	if strings.TrimSpace(text) == "" {
		return message
	}
	return message + "\n\nContent of the PDF document:\n\n" + text
}

// handleReadPDF returns the text of a previously uploaded PDF. pdf_path is
// the upload URL or the bare file name.
func (s *Server) handleReadPDF(w http.ResponseWriter, r *http.Request) {
	if s.deps.PDF == nil {
		writeError(w, http.StatusServiceUnavailable, "PDF reading is not available")
		return
	}
	raw := strings.TrimPrefix(r.URL.Query().Get("pdf_path"), uploadedFilesURL)
	name := filepath.Base(filepath.Clean("/" + raw))
	if raw == "" || name == "/" || name == "." {
		writeError(w, http.StatusBadRequest, "missing query parameter: pdf_path")
		return
	}
	text, err := s.deps.PDF.ReadFile(filepath.Join(s.deps.UploadsDir, name))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "PDF file not found: "+uploadedFilesURL+name)
		return
	case err != nil:
		s.logger.Error("read pdf failed", "file", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Error reading PDF: "+domain.SanitizeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// runTurn processes in and writes the chat response. fallbackImage is
// returned as image when the turn generated none.
func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, in chat.Input, fallbackImage string) {
	out, err := s.deps.Chat.Process(r.Context(), in)
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
		return
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
		return
	case err != nil:
		s.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, domain.SanitizeError(err))
		return
	}

	if chat.IsBackendFailure(out.Err) {
		writeError(w, http.StatusInternalServerError, "LLM service unavailable: "+domain.SanitizeError(out.Err))
		return
	}
	if strings.TrimSpace(out.Response) == "" && out.Image == "" {
		writeError(w, http.StatusInternalServerError, "Empty response from LLM service")
		return
	}

	image := out.Image
	if image == "" {
		image = fallbackImage
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: out.Response, Image: image, SessionID: out.SessionID})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.STT == nil {
		writeError(w, http.StatusNotImplemented, "speech-to-text is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing form field: audio")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read audio")
		return
	}

	text, err := s.deps.STT.Transcribe(r.Context(), audio, header.Filename)
	if err != nil {
		s.logger.Warn("transcription failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": domain.SanitizeError(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
}
