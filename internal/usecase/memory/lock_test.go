package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocker_Basic(t *testing.T) {
	l := NewLocker()
	unlock, err := l.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if l.activeCount() != 1 {
		t.Errorf("activeCount = %d, want 1", l.activeCount())
	}
	unlock()
	unlock() // second call is a no-op
	if l.activeCount() != 0 {
		t.Errorf("activeCount after unlock = %d, want 0", l.activeCount())
	}
}

func TestLocker_SameSessionSerializes(t *testing.T) {
	l := NewLocker()
	unlock1, err := l.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}

	order := make(chan int, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		unlock2, err := l.Lock(context.Background(), "s1")
		if err != nil {
			t.Errorf("Lock2: %v", err)
			return
		}
		order <- 2
		unlock2()
	}()

	time.Sleep(50 * time.Millisecond)
	order <- 1
	unlock1()
	wg.Wait()

	if first := <-order; first != 1 {
		t.Errorf("first = %d, want 1", first)
	}
	if l.activeCount() != 0 {
		t.Errorf("activeCount = %d, want 0", l.activeCount())
	}
}

func TestLocker_DifferentSessionsDoNotBlock(t *testing.T) {
	l := NewLocker()
	unlock1, _ := l.Lock(context.Background(), "a")
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b: %v", err)
	}
	unlock2()
}

func TestLocker_ContextCancel(t *testing.T) {
	l := NewLocker()
	unlock, _ := l.Lock(context.Background(), "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, "s1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}

	unlock()
	if l.activeCount() != 0 {
		t.Errorf("activeCount = %d, want 0", l.activeCount())
	}
	if u, err := l.Lock(context.Background(), "s1"); err != nil {
		t.Fatalf("relock: %v", err)
	} else {
		u()
	}
}
