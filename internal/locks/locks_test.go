package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	locker, err := NewRedisLocker("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("NewRedisLocker failed: %v", err)
	}
	t.Cleanup(func() { locker.Close() })
	return locker, s
}

func TestRedisLockerExclusive(t *testing.T) {
	locker, s := setupRedisLocker(t, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, ProposalKey("p1"))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !s.Exists("lock:proposal:p1") {
		t.Fatal("expected lock key in redis")
	}

	busyCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(busyCtx, ProposalKey("p1")); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	release()
	release()
	if s.Exists("lock:proposal:p1") {
		t.Fatal("expected lock key to be released")
	}
	again, err := locker.Acquire(ctx, ProposalKey("p1"))
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again()
}

func TestRedisLockerReleaseKeepsForeignLock(t *testing.T) {
	locker, s := setupRedisLocker(t, time.Second)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	// The lock expires and someone else takes it.
	s.FastForward(2 * time.Second)
	if err := s.Set("lock:k", "other-holder"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	release()
	got, err := s.Get("lock:k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "other-holder" {
		t.Fatalf("foreign lock was released, value = %q", got)
	}
}

func TestRedisLockerConnectError(t *testing.T) {
	if _, err := NewRedisLocker("not a url", time.Second); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLocalLockerSerializes(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "p1")
			if err != nil {
				errCh <- err
				return
			}
			defer release()
			now := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if now <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Acquire failed: %v", err)
	}
	if maxActive != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxActive)
	}
}

func TestLocalLockerTimeout(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "p1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	other, err := locker.Acquire(ctx, "p2")
	if err != nil {
		t.Fatalf("Acquire of a different key failed: %v", err)
	}
	other()
}

func TestAcquireAllDeduplicatesAndReleases(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := AcquireAll(ctx, locker, "b", "a", "b")
	if err != nil {
		t.Fatalf("AcquireAll failed: %v", err)
	}
	release()

	for _, key := range []string{"a", "b"} {
		r, err := locker.Acquire(ctx, key)
		if err != nil {
			t.Fatalf("Acquire(%s) after AcquireAll release failed: %v", key, err)
		}
		r()
	}
}

func TestAcquireAllRollsBackOnTimeout(t *testing.T) {
	locker := NewLocalLocker()
	held, err := locker.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer held()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := AcquireAll(ctx, locker, "a", "b"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	r, err := locker.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("expected a to be released after rollback: %v", err)
	}
	r()
}
