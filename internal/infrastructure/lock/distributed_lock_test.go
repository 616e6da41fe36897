package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestTryLockIsExclusive(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	first := NewUnlockLock(client, "school_1", 1, "viewer", "req-a", time.Minute)
	second := NewUnlockLock(client, "school_1", 1, "viewer", "req-b", time.Minute)

	ok, err := first.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}
	ok, err = second.TryLock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second holder must not acquire the same lease")
	}

	other := NewUnlockLock(client, "school_1", 2, "viewer", "req-c", time.Minute)
	if ok, _ := other.TryLock(ctx); !ok {
		t.Fatal("a different page must be lockable")
	}
}

func TestUnlockOnlyReleasesOwnLease(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "k", "mine", time.Minute)
	intruder := NewDistributedLock(client, "k", "theirs", time.Minute)

	if ok, _ := holder.TryLock(ctx); !ok {
		t.Fatal("expected lock")
	}
	if err := intruder.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := mr.Get("k"); got != "mine" {
		t.Fatalf("lease was released by a non-owner, value=%q", got)
	}

	if err := holder.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("k") {
		t.Fatal("owner unlock should delete the key")
	}
}

func TestLeaseExpires(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	l := NewDistributedLock(client, "k", "a", time.Second)
	if ok, _ := l.TryLock(ctx); !ok {
		t.Fatal("expected lock")
	}
	mr.FastForward(2 * time.Second)

	again := NewDistributedLock(client, "k", "b", time.Second)
	if ok, _ := again.TryLock(ctx); !ok {
		t.Fatal("expired lease should be acquirable")
	}
}

func TestLockGivesUpAfterRetries(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	NewPayoutLock(client, "acct", "a").TryLock(ctx)
	err := NewPayoutLock(client, "acct", "b").Lock(ctx, time.Millisecond, 3)
	if !errors.Is(err, ErrLockFailed) {
		t.Fatalf("expected ErrLockFailed, got %v", err)
	}
}
