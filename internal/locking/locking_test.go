package locking

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Minute).WithWait(100 * time.Millisecond), mr
}

func TestKey(t *testing.T) {
	got := Key("t-1", civil.Date{Year: 2024, Month: time.January, Day: 2})
	if got != "lock:therapist:t-1:2024-01-02" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "b", "a", "b")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !mr.Exists("a") || !mr.Exists("b") {
		t.Fatal("expected both keys to be held")
	}
	if ttl := mr.TTL("a"); ttl <= 0 {
		t.Fatalf("expected ttl on lock key, got %v", ttl)
	}

	if _, err := locker.Acquire(ctx, "a"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired while held, got %v", err)
	}

	release()
	if mr.Exists("a") || mr.Exists("b") {
		t.Fatal("expected keys to be released")
	}
	release2, err := locker.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	release2()
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newRedisLocker(t)

	release, err := locker.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	// Simulate expiry and takeover by another holder.
	if err := mr.Set("k", "someone-else"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	release()
	if got, _ := mr.Get("k"); got != "someone-else" {
		t.Fatalf("release removed a foreign lock, value now %q", got)
	}
}

func TestRedisLockerPartialFailureReleasesHeld(t *testing.T) {
	locker, mr := newRedisLocker(t)
	if err := mr.Set("b", "other"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if _, err := locker.Acquire(context.Background(), "a", "b"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if mr.Exists("a") {
		t.Fatal("expected already-held key to be released after failure")
	}
}

func TestKeyedMutexSerialises(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "x", "y")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := m.Acquire(ctx, "y")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release() // idempotent

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded")
	}
}

func TestKeyedMutexContextCancel(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.Acquire(context.Background(), "x")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRedisLockerExtendsWhileHeld(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client, 300*time.Millisecond)

	release, err := locker.Acquire(context.Background(), "long")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		mr.FastForward(100 * time.Millisecond)
		time.Sleep(150 * time.Millisecond)
	}
	if !mr.Exists("long") {
		t.Fatal("expected lock to outlive its ttl while held")
	}

	release()
	release()
	if mr.Exists("long") {
		t.Fatal("expected lock to be released")
	}
	time.Sleep(150 * time.Millisecond)
	if mr.Exists("long") {
		t.Fatal("expected no extension after release")
	}
}
