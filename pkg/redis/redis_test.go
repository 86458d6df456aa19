package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestGroupLockerExcludesSecondHolder(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewGroupLocker(rdb, time.Second, 50*time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "group:1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if !mr.Exists(LockKey("group:1")) {
		t.Fatal("expected lock key to be set")
	}

	if _, err := locker.Lock(ctx, "group:1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Lock() error = %v, want ErrLockTimeout", err)
	}

	other, err := locker.Lock(ctx, "group:2")
	if err != nil {
		t.Fatalf("Lock() on another group error = %v", err)
	}
	other()

	unlock()
	if mr.Exists(LockKey("group:1")) {
		t.Fatal("expected unlock to delete the key")
	}

	again, err := locker.Lock(ctx, "group:1")
	if err != nil {
		t.Fatalf("Lock() after unlock error = %v", err)
	}
	again()
}

func TestGroupLockerReleaseKeepsForeignLease(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewGroupLocker(rdb, time.Second, 0)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "group:7")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	// Lease expired and another replica took it over.
	mr.FastForward(2 * time.Second)
	if err := mr.Set(LockKey("group:7"), "someone-else"); err != nil {
		t.Fatalf("seeding foreign lease: %v", err)
	}

	unlock()
	got, err := mr.Get(LockKey("group:7"))
	if err != nil {
		t.Fatalf("expected foreign lease to survive: %v", err)
	}
	if got != "someone-else" {
		t.Errorf("lease value = %q, want someone-else", got)
	}
}

func TestGroupLockerHonoursContext(t *testing.T) {
	_, rdb := newTestClient(t)
	locker := NewGroupLocker(rdb, time.Second, time.Minute)

	unlock, err := locker.Lock(context.Background(), "group:3")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "group:3"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestIdempotencyLifecycle(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	_, claimed, err := ClaimIdempotency(ctx, rdb, 5, "abc", time.Hour)
	if err != nil || !claimed {
		t.Fatalf("first ClaimIdempotency() = %v, %v", claimed, err)
	}

	state, claimed, err := ClaimIdempotency(ctx, rdb, 5, "abc", time.Hour)
	if err != nil {
		t.Fatalf("second ClaimIdempotency() error = %v", err)
	}
	if claimed || state.Status != IdemPending {
		t.Fatalf("second claim = %+v claimed=%v, want pending and not claimed", state, claimed)
	}

	// Another organization has its own key space.
	if _, claimed, _ := ClaimIdempotency(ctx, rdb, 6, "abc", time.Hour); !claimed {
		t.Error("expected key to be free for another organization")
	}

	if err := CompleteIdempotency(ctx, rdb, 5, "abc", 42, time.Hour); err != nil {
		t.Fatalf("CompleteIdempotency() error = %v", err)
	}
	state, claimed, err = ClaimIdempotency(ctx, rdb, 5, "abc", time.Hour)
	if err != nil || claimed {
		t.Fatalf("claim after completion = %v, %v", claimed, err)
	}
	if state.Status != IdemDone || state.RequestID != 42 {
		t.Errorf("state = %+v, want done/42", state)
	}

	// Completed keys survive release.
	if err := ReleaseIdempotency(ctx, rdb, 5, "abc"); err != nil {
		t.Fatalf("ReleaseIdempotency() error = %v", err)
	}
	if !mr.Exists(IdempotencyKey(5, "abc")) {
		t.Error("expected completed key to be kept")
	}

	mr.FastForward(2 * time.Hour)
	if _, claimed, _ := ClaimIdempotency(ctx, rdb, 5, "abc", time.Hour); !claimed {
		t.Error("expected key to be claimable after TTL")
	}
}

func TestReleaseIdempotencyDropsPendingClaim(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	if _, claimed, err := ClaimIdempotency(ctx, rdb, 1, "retry-me", time.Hour); err != nil || !claimed {
		t.Fatalf("ClaimIdempotency() = %v, %v", claimed, err)
	}
	if err := ReleaseIdempotency(ctx, rdb, 1, "retry-me"); err != nil {
		t.Fatalf("ReleaseIdempotency() error = %v", err)
	}
	if mr.Exists(IdempotencyKey(1, "retry-me")) {
		t.Error("expected pending claim to be deleted")
	}
}
