package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"omni-agent/internal/domain"
)

// Memory is a process-local domain.SessionStore, used when memory.driver is
// "memory" and in tests.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ChatSession
	messages map[string][]domain.ChatMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*domain.ChatSession),
		messages: make(map[string][]domain.ChatMessage),
	}
}

func (m *Memory) CreateSession(_ context.Context, p domain.NewSessionParams) (*domain.ChatSession, error) {
	now := time.Now().UTC()
	s := &domain.ChatSession{
		ID:        uuid.NewString(),
		Title:     p.Title,
		UserID:    p.UserID,
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Metadata:  maps.Clone(nonNil(p.Metadata)),
	}
	if s.Title == "" {
		s.Title = domain.DefaultSessionTitle(time.Now())
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return cloneSession(s, 0), nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*domain.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(s, len(m.messages[id])), nil
}

func (m *Memory) ListSessions(_ context.Context, userID string, limit int) ([]domain.ChatSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	var out []domain.ChatSession
	for _, s := range m.sessions {
		if !s.IsActive || (userID != "" && s.UserID != userID) {
			continue
		}
		out = append(out, *cloneSession(s, len(m.messages[s.ID])))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateSession(_ context.Context, id string, upd domain.SessionUpdate) (*domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return nil, domain.ErrSessionNotFound
	}
	if upd.Title != nil {
		s.Title = *upd.Title
	}
	maps.Copy(s.Metadata, upd.Metadata)
	s.UpdatedAt = time.Now().UTC()
	return cloneSession(s, len(m.messages[id])), nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.IsActive {
		return domain.ErrSessionNotFound
	}
	s.IsActive = false
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) AddMessage(_ context.Context, msg *domain.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[msg.SessionID]
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Type == "" {
		msg.Type = domain.MessageText
	}
	stored := *msg
	stored.Metadata = maps.Clone(nonNil(msg.Metadata))
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], stored)
	s.UpdatedAt = time.Now().UTC()
	return msg.ID, nil
}

func (m *Memory) RecentMessages(_ context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[sessionID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

func (m *Memory) Close() error { return nil }

func cloneSession(s *domain.ChatSession, count int) *domain.ChatSession {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	c.MessageCount = count
	return &c
}
