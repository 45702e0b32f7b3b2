package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-agent/internal/domain"
	"omni-agent/internal/infra/logger"
	"omni-agent/internal/usecase/eventbus"
)

// fakeStore keeps sessions in maps and can be switched to failing.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.ChatSession
	messages map[string][]domain.ChatMessage
	fail     error
	next     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]*domain.ChatSession{}, messages: map[string][]domain.ChatMessage{}}
}

func (f *fakeStore) CreateSession(_ context.Context, p domain.NewSessionParams) (*domain.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.next++
	s := &domain.ChatSession{ID: fmt.Sprintf("sess-%d", f.next), Title: p.Title, IsActive: true}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*domain.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeStore) ListSessions(context.Context, string, int) ([]domain.ChatSession, error) {
	return nil, nil
}

func (f *fakeStore) UpdateSession(context.Context, string, domain.SessionUpdate) (*domain.ChatSession, error) {
	return nil, nil
}

func (f *fakeStore) DeleteSession(context.Context, string) error { return nil }

func (f *fakeStore) AddMessage(_ context.Context, m *domain.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.next++
	m.ID = fmt.Sprintf("msg-%d", f.next)
	f.messages[m.SessionID] = append(f.messages[m.SessionID], *m)
	return m.ID, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, id string, limit int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	msgs := f.messages[id]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func newMemory(store domain.SessionStore) *Memory {
	fixed := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	return New(store, Options{HistoryLimit: 4, Logger: logger.Discard(), Now: func() time.Time { return fixed }})
}

func TestResolve_CreatesSession(t *testing.T) {
	store := newFakeStore()
	m := newMemory(store)

	s, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, s.Persistent)
	assert.True(t, s.Created)
	assert.Equal(t, "Chat 2024-03-09 14:05", store.sessions[s.ID].Title)
}

func TestResolve_UnknownSession(t *testing.T) {
	m := newMemory(newFakeStore())
	_, err := m.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestResolve_StoreFailureDegrades(t *testing.T) {
	store := newFakeStore()
	store.setFail(errors.New("disk full"))
	m := newMemory(store)

	s, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, s.Persistent)
	assert.NotEmpty(t, s.ID)

	m.Append(context.Background(), s, domain.ChatMessage{Role: domain.RoleUser, Content: "hi"})
	h := m.History(context.Background(), s)
	require.Len(t, h, 1)
	assert.Equal(t, "hi", h[0].Content)

	// A degraded session stays in memory even after the store recovers.
	store.setFail(nil)
	again, err := m.Resolve(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, again.Persistent)
}

func TestPersistentRoundTrip(t *testing.T) {
	store := newFakeStore()
	m := newMemory(store)
	ctx := context.Background()

	s, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	m.Append(ctx, s, domain.ChatMessage{Role: domain.RoleUser, Content: "q"})
	m.Append(ctx, s, domain.ChatMessage{Role: domain.RoleAssistant, Content: "a", AgentType: "math"})
	m.Append(ctx, s, domain.ChatMessage{Role: domain.RoleSystem, Content: "note"})

	h := m.History(ctx, s)
	require.Len(t, h, 2)
	assert.Equal(t, "q", h[0].Content)
	assert.Equal(t, "a", h[1].Content)

	stored := store.messages[s.ID]
	require.Len(t, stored, 3)
	assert.Equal(t, domain.MessageText, stored[0].Type)
	assert.Equal(t, "math", stored[1].AgentType)
}

func TestDisabledMemoryKeepsBoundedHistory(t *testing.T) {
	m := newMemory(nil)
	ctx := context.Background()
	assert.False(t, m.Enabled())

	s, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	assert.False(t, s.Persistent)
	for i := 0; i < 6; i++ {
		m.Append(ctx, s, domain.ChatMessage{Role: domain.RoleUser, Content: fmt.Sprint(i)})
	}
	h := m.History(ctx, s)
	require.Len(t, h, 4)
	assert.Equal(t, "2", h[0].Content)

	other, _ := m.Resolve(ctx, "")
	assert.Empty(t, m.History(ctx, other))

	m.Forget(s.ID)
	assert.Empty(t, m.History(ctx, s))
}

func TestAppendFailureMidSession(t *testing.T) {
	store := newFakeStore()
	m := newMemory(store)
	ctx := context.Background()

	s, _ := m.Resolve(ctx, "")
	store.setFail(errors.New("locked"))
	m.Append(ctx, s, domain.ChatMessage{Role: domain.RoleUser, Content: "kept"})

	h := m.History(ctx, s)
	require.Len(t, h, 1)
	assert.Equal(t, "kept", h[0].Content)
}

func TestSessionDeletedEventForgetsHistory(t *testing.T) {
	bus := eventbus.New(logger.Discard())
	defer bus.Close()
	m := New(nil, Options{HistoryLimit: 4, Logger: logger.Discard(), Bus: bus})
	ctx := context.Background()

	s, err := m.Resolve(ctx, "")
	require.NoError(t, err)
	m.Append(ctx, s, domain.ChatMessage{Role: domain.RoleUser, Content: "remember me"})
	require.Len(t, m.History(ctx, s), 1)

	bus.Publish(ctx, domain.NewEvent(domain.EventSessionDeleted, s.ID, nil))
	require.Eventually(t, func() bool { return len(m.History(ctx, s)) == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Close())
	m.Append(ctx, s, domain.ChatMessage{Role: domain.RoleUser, Content: "again"})
	bus.Publish(ctx, domain.NewEvent(domain.EventSessionDeleted, s.ID, nil))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, m.History(ctx, s), 1, "closed memory ignores deletions")
}
