package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "group:1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := l.Lock(ctx, "group:1")
		if err != nil {
			t.Errorf("second Lock() error = %v", err)
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(30 * time.Millisecond):
	}

	other, err := l.Lock(ctx, "group:2")
	if err != nil {
		t.Fatalf("Lock() on another key error = %v", err)
	}
	other()

	unlock()
	unlock() // idempotent
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the released lock")
	}
}

func TestLocalLockerHonoursContext(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "group:1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "group:1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestLocalLockerForgetsIdleKeys(t *testing.T) {
	l := NewLocalLocker()
	for i := 0; i < 3; i++ {
		unlock, err := l.Lock(context.Background(), "group:9")
		if err != nil {
			t.Fatalf("Lock() error = %v", err)
		}
		unlock()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.locks) != 0 {
		t.Errorf("expected no idle keys, got %d", len(l.locks))
	}
}

func TestGroupLockKey(t *testing.T) {
	gid := uint(4)
	if got := groupLockKey(&gid, 7); got != "group:4" {
		t.Errorf("groupLockKey() = %q, want group:4", got)
	}
	if got := groupLockKey(nil, 7); got != "listing:7" {
		t.Errorf("legacy groupLockKey() = %q, want listing:7", got)
	}
}
