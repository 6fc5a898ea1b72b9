package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("First TryLock = %v, %v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "sweep", time.Minute); ok {
		t.Error("Second TryLock should fail while held")
	}
	if _, ok, _ := l.TryLock(ctx, "other", time.Minute); !ok {
		t.Error("Different keys should not contend")
	}

	release()
	if _, ok, _ := l.TryLock(ctx, "sweep", time.Minute); !ok {
		t.Error("TryLock should succeed after release")
	}
}

func TestLocalLocker_ExpiredLeaseAndStaleRelease(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	staleRelease, _, _ := l.TryLock(ctx, "sweep", time.Minute)
	now = now.Add(2 * time.Minute)

	_, ok, _ := l.TryLock(ctx, "sweep", time.Minute)
	if !ok {
		t.Fatal("Expired lease should be taken over")
	}

	staleRelease()
	if _, ok, _ := l.TryLock(ctx, "sweep", time.Minute); ok {
		t.Error("A stale release must not drop the new holder's lease")
	}
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := NewLocalLocker().TryLock(ctx, "sweep", time.Minute); err == nil {
		t.Error("Expected context error")
	}
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("LIVECLASS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLocker_Exclusive(t *testing.T) {
	client := newRedisClient(t)
	prefix := "liveclass-test-" + uuid.NewString() + ":"
	a := NewRedisLockerFromClient(client, prefix)
	b := NewRedisLockerFromClient(client, prefix)
	ctx := context.Background()

	release, ok, err := a.TryLock(ctx, "sweep", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("First TryLock = %v, %v", ok, err)
	}
	if _, ok, err := b.TryLock(ctx, "sweep", 5*time.Second); err != nil || ok {
		t.Errorf("Second node should not acquire: ok=%v err=%v", ok, err)
	}

	release()
	releaseB, ok, err := b.TryLock(ctx, "sweep", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("TryLock after release = %v, %v", ok, err)
	}
	releaseB()
}

func TestRedisLocker_StaleReleaseKeepsNewLease(t *testing.T) {
	client := newRedisClient(t)
	prefix := "liveclass-test-" + uuid.NewString() + ":"
	l := NewRedisLockerFromClient(client, prefix)
	ctx := context.Background()

	staleRelease, ok, _ := l.TryLock(ctx, "sweep", 100*time.Millisecond)
	if !ok {
		t.Fatal("TryLock failed")
	}
	time.Sleep(200 * time.Millisecond)

	release, ok, _ := l.TryLock(ctx, "sweep", 5*time.Second)
	if !ok {
		t.Fatal("Expired lease should be re-acquirable")
	}
	defer release()

	staleRelease()
	if _, ok, _ := l.TryLock(ctx, "sweep", 5*time.Second); ok {
		t.Error("Stale release removed the current lease")
	}
}
