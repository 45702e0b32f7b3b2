package memory

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes turns per session. Different sessions never contend.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionSlot
}

type sessionSlot struct {
	sem  chan struct{}
	refs int
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sessionSlot)}
}

// Lock blocks until the session is free or ctx is done. The returned
// unlock func must be called exactly once.
func (l *Locker) Lock(ctx context.Context, sessionID string) (unlock func(), err error) {
	l.mu.Lock()
	slot, ok := l.locks[sessionID]
	if !ok {
		slot = &sessionSlot{sem: make(chan struct{}, 1)}
		l.locks[sessionID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.sem
				l.release(sessionID, slot)
			})
		}, nil
	case <-ctx.Done():
		l.release(sessionID, slot)
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

func (l *Locker) release(sessionID string, slot *sessionSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.locks, sessionID)
	}
}

// activeCount returns the number of sessions with held or pending locks.
func (l *Locker) activeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
