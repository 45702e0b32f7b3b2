package gateway

import (
	"errors"
	"net/http"
	"time"

	"omni-agent/internal/domain"
)

const (
	defaultSessionListLimit = 50
	defaultMessageLimit     = 50
	contextMessageLimit     = 10
)

type createSessionRequest struct {
	Title    string         `json:"title"`
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata"`
}

type updateSessionRequest struct {
	Title    *string        `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

// messageView is the history shape the web client renders.
type messageView struct {
	ID          string             `json:"id"`
	Text        string             `json:"text"`
	IsUser      bool               `json:"isUser"`
	Timestamp   time.Time          `json:"timestamp"`
	MessageType domain.MessageType `json:"messageType"`
	Metadata    map[string]any     `json:"metadata"`
	AgentType   string             `json:"agentType,omitempty"`
	IsError     bool               `json:"isError"`
}

type contextStats struct {
	TotalMessages int `json:"total_messages"`
}

type contextView struct {
	SessionID      string        `json:"session_id"`
	RecentMessages []messageView `json:"recent_messages"`
	Stats          contextStats  `json:"stats"`
}

func toMessageView(m domain.ChatMessage) messageView {
	return messageView{
		ID:          m.ID,
		Text:        m.Content,
		IsUser:      m.Role == domain.RoleUser,
		Timestamp:   m.Timestamp,
		MessageType: m.Type,
		Metadata:    m.Metadata,
		AgentType:   m.AgentType,
		IsError:     m.Type == domain.MessageError,
	}
}

func (s *Server) requireSessions(w http.ResponseWriter) bool {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "memory is disabled")
		return false
	}
	return true
}

// sessionError writes the response for a failed store call.
func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.logger.Error("session store call failed", "error", err)
	writeError(w, http.StatusInternalServerError, domain.SanitizeError(err))
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	sess, err := s.deps.Sessions.CreateSession(r.Context(), domain.NewSessionParams{
		Title:    req.Title,
		UserID:   req.UserID,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	sessions, err := s.deps.Sessions.ListSessions(r.Context(), r.URL.Query().Get("user_id"),
		queryInt(r, "limit", defaultSessionListLimit))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	sess, err := s.deps.Sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	var req updateSessionRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.deps.Sessions.UpdateSession(r.Context(), r.PathValue("id"), domain.SessionUpdate{
		Title:    req.Title,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Sessions.DeleteSession(r.Context(), id); err != nil {
		s.sessionError(w, err)
		return
	}
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(r.Context(), domain.NewEvent(domain.EventSessionDeleted, id, nil))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	id := r.PathValue("id")
	if _, err := s.deps.Sessions.GetSession(r.Context(), id); err != nil {
		s.sessionError(w, err)
		return
	}
	msgs, err := s.deps.Sessions.RecentMessages(r.Context(), id, queryInt(r, "limit", defaultMessageLimit))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	id := r.PathValue("id")
	sess, err := s.deps.Sessions.GetSession(r.Context(), id)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	msgs, err := s.deps.Sessions.RecentMessages(r.Context(), id, contextMessageLimit)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	view := contextView{
		SessionID:      id,
		RecentMessages: make([]messageView, 0, len(msgs)),
		Stats:          contextStats{TotalMessages: sess.MessageCount},
	}
	for _, m := range msgs {
		view.RecentMessages = append(view.RecentMessages, toMessageView(m))
	}
	writeJSON(w, http.StatusOK, view)
}
