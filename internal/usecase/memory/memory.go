// Package memory loads and saves conversation turns through the session
// store, falling back to process-local history when the store is disabled
// or failing.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"omni-agent/internal/domain"
)

// DefaultHistoryLimit is the number of recent messages loaded per turn.
const DefaultHistoryLimit = 50

// Options configures a Memory.
type Options struct {
	HistoryLimit int
	Logger       *slog.Logger
	Bus          domain.EventBus
	Now          func() time.Time
}

// Session is a resolved conversation handle for one turn.
type Session struct {
	ID string
	// Persistent is false when history lives only in process memory.
	Persistent bool
	Created    bool
}

// Memory is safe for concurrent use.
type Memory struct {
	store  domain.SessionStore
	limit  int
	logger *slog.Logger
	bus    domain.EventBus
	now    func() time.Time
	locks  *Locker

	mu       sync.Mutex
	volatile map[string][]domain.Message
	degraded map[string]bool

	unsubscribe func()
}

// New creates a Memory over store. A nil store keeps all history in memory.
func New(store domain.SessionStore, opts Options) *Memory {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Memory{
		store:    store,
		limit:    opts.HistoryLimit,
		logger:   opts.Logger,
		bus:      opts.Bus,
		now:      opts.Now,
		locks:    NewLocker(),
		volatile: make(map[string][]domain.Message),
		degraded: make(map[string]bool),
	}
	if m.bus != nil {
		m.unsubscribe = m.bus.Subscribe(domain.EventSessionDeleted, func(_ context.Context, ev domain.Event) {
			m.Forget(ev.SessionID)
		})
	}
	return m
}

// Close stops following session deletions.
func (m *Memory) Close() error {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	return nil
}

// Enabled reports whether a persistent store is configured.
func (m *Memory) Enabled() bool { return m.store != nil }

// Store returns the underlying store, or nil when memory is disabled.
func (m *Memory) Store() domain.SessionStore { return m.store }

// Lock serializes turns on one session.
func (m *Memory) Lock(ctx context.Context, sessionID string) (func(), error) {
	return m.locks.Lock(ctx, sessionID)
}

// Resolve returns the session for a turn, creating one when id is empty.
// An explicit id unknown to an enabled store yields domain.ErrSessionNotFound.
// Any other store failure degrades the session to in-memory history.
func (m *Memory) Resolve(ctx context.Context, id string) (Session, error) {
	if m.store == nil {
		if id == "" {
			return Session{ID: uuid.NewString(), Created: true}, nil
		}
		return Session{ID: id}, nil
	}

	if id != "" {
		if m.isDegraded(id) {
			return Session{ID: id}, nil
		}
		_, err := m.store.GetSession(ctx, id)
		switch {
		case err == nil:
			return Session{ID: id, Persistent: true}, nil
		case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrNotFound):
			return Session{}, domain.NewDomainError("Memory.Resolve", domain.ErrSessionNotFound, id)
		default:
			m.degrade(ctx, id, err)
			return Session{ID: id}, nil
		}
	}

	s, err := m.store.CreateSession(ctx, domain.NewSessionParams{Title: domain.DefaultSessionTitle(m.now())})
	if err != nil {
		id = uuid.NewString()
		m.degrade(ctx, id, err)
		return Session{ID: id, Created: true}, nil
	}
	m.publish(ctx, domain.EventSessionCreated, s.ID, map[string]string{"title": s.Title})
	return Session{ID: s.ID, Persistent: true, Created: true}, nil
}

// History returns the recent user and assistant messages in chronological order.
func (m *Memory) History(ctx context.Context, s Session) []domain.Message {
	if s.Persistent && !m.isDegraded(s.ID) {
		msgs, err := m.store.RecentMessages(ctx, s.ID, m.limit)
		if err == nil {
			out := make([]domain.Message, 0, len(msgs))
			for _, cm := range msgs {
				if cm.Role == domain.RoleUser || cm.Role == domain.RoleAssistant {
					out = append(out, domain.Message{Role: cm.Role, Content: cm.Content, Timestamp: cm.Timestamp})
				}
			}
			return out
		}
		m.degrade(ctx, s.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.volatile[s.ID]
	out := make([]domain.Message, len(h))
	copy(out, h)
	return out
}

// Append records a message. It never fails the turn: store errors degrade
// the session and the message is kept in memory instead.
func (m *Memory) Append(ctx context.Context, s Session, msg domain.ChatMessage) {
	msg.SessionID = s.ID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	if msg.Type == "" {
		msg.Type = domain.MessageText
	}
	if s.Persistent && !m.isDegraded(s.ID) {
		id, err := m.store.AddMessage(ctx, &msg)
		if err == nil {
			m.publish(ctx, domain.EventMessageStored, s.ID, map[string]string{"message_id": id, "role": msg.Role})
			return
		}
		m.degrade(ctx, s.ID, err)
	}
	if msg.Role != domain.RoleUser && msg.Role != domain.RoleAssistant {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.volatile[s.ID], domain.Message{Role: msg.Role, Content: msg.Content, Timestamp: msg.Timestamp})
	if len(h) > m.limit {
		h = h[len(h)-m.limit:]
	}
	m.volatile[s.ID] = h
}

// Forget drops in-memory history for a session. It runs on every
// session.deleted event.
func (m *Memory) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.volatile, id)
	delete(m.degraded, id)
}

func (m *Memory) isDegraded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded[id]
}

func (m *Memory) degrade(ctx context.Context, id string, err error) {
	m.mu.Lock()
	already := m.degraded[id]
	m.degraded[id] = true
	m.mu.Unlock()
	if already {
		return
	}
	m.logger.Warn("session store failed, using in-memory history", "session_id", id, "error", err)
	m.publish(ctx, domain.EventSessionDegraded, id, map[string]string{"error": domain.SanitizeError(err)})
}

func (m *Memory) publish(ctx context.Context, typ domain.EventType, sessionID string, payload any) {
	if m.bus != nil {
		m.bus.Publish(ctx, domain.NewEvent(typ, sessionID, payload))
	}
}
