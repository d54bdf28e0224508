package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/surgecache/shared"
)

func newTestLock(t *testing.T, store shared.Store) *Distributed {
	t.Helper()
	d, err := NewDistributed(Config{Store: store, RetryInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return d
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	d := newTestLock(t, store)

	ok, err := d.TryLock(ctx, "k", time.Second, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire = %v,%v", ok, err)
	}
	locked, err := d.IsLocked(ctx, "k")
	if err != nil || !locked {
		t.Fatalf("isLocked = %v,%v", locked, err)
	}
	if err := d.Unlock(ctx, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	locked, err = d.IsLocked(ctx, "k")
	if err != nil || locked {
		t.Fatalf("isLocked after unlock = %v,%v", locked, err)
	}
}

func TestSecondServiceTimesOut(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	a := newTestLock(t, store)
	b := newTestLock(t, store)

	if ok, err := a.TryLock(ctx, "k", time.Second, time.Minute); err != nil || !ok {
		t.Fatalf("first acquire = %v,%v", ok, err)
	}

	start := time.Now()
	ok, err := b.TryLock(ctx, "k", 100*time.Millisecond, time.Minute)
	if err != nil {
		t.Fatalf("second tryLock: %v", err)
	}
	if ok {
		t.Fatal("lock granted twice")
	}
	if waited := time.Since(start); waited < 100*time.Millisecond {
		t.Fatalf("gave up after %v, before the wait elapsed", waited)
	}
}

func TestHandoffAfterRelease(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	a := newTestLock(t, store)
	b := newTestLock(t, store)

	if ok, _ := a.TryLock(ctx, "k", time.Second, time.Minute); !ok {
		t.Fatal("first acquire failed")
	}

	done := make(chan bool, 1)
	go func() {
		ok, err := b.TryLock(ctx, "k", 2*time.Second, time.Minute)
		if err != nil {
			t.Errorf("waiter: %v", err)
		}
		done <- ok
	}()

	time.Sleep(30 * time.Millisecond)
	if err := a.Unlock(ctx, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("waiter never got the lock")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter stuck")
	}
}

func TestLeaseExpiryFreesTheKey(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	a := newTestLock(t, store)
	b := newTestLock(t, store)

	if ok, _ := a.TryLock(ctx, "k", time.Second, 50*time.Millisecond); !ok {
		t.Fatal("first acquire failed")
	}
	// a never unlocks; b must get in once the lease lapses.
	ok, err := b.TryLock(ctx, "k", time.Second, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after lease expiry = %v,%v", ok, err)
	}
}

func TestReentrancy(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	d := newTestLock(t, store)

	if ok, _ := d.TryLock(ctx, "k", time.Second, time.Minute); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := d.TryLock(ctx, "k", time.Second, time.Minute); !ok {
		t.Fatal("reentrant acquire failed")
	}
	if s := d.Stats(); s.Held != 1 || s.Reentrant != 1 {
		t.Fatalf("stats = %+v", s)
	}

	// First unlock only drops one level.
	if err := d.Unlock(ctx, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if locked, _ := d.IsLocked(ctx, "k"); !locked {
		t.Fatal("released while still reentrantly held")
	}
	if err := d.Unlock(ctx, "k"); err != nil {
		t.Fatalf("final unlock: %v", err)
	}
	if locked, _ := d.IsLocked(ctx, "k"); locked {
		t.Fatal("still locked after final unlock")
	}
}

func TestReentrancyIsInstanceScoped(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	d := newTestLock(t, store)

	if ok, _ := d.TryLock(ctx, "k", time.Second, time.Minute); !ok {
		t.Fatal("acquire failed")
	}

	// A different goroutine of the same instance reenters immediately; the
	// holder identity is the service, not the goroutine.
	got := make(chan bool, 1)
	go func() {
		ok, err := d.TryLock(ctx, "k", 50*time.Millisecond, time.Minute)
		if err != nil {
			t.Errorf("tryLock: %v", err)
		}
		got <- ok
	}()
	select {
	case ok := <-got:
		if !ok {
			t.Fatal("same-instance goroutine was not treated as the holder")
		}
	case <-time.After(time.Second):
		t.Fatal("reentrant acquire blocked")
	}

	if s := d.Stats(); s.Held != 1 || s.Reentrant != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if err := d.Unlock(ctx, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := d.Unlock(ctx, "k"); err != nil {
		t.Fatalf("final unlock: %v", err)
	}
}

func TestUnlockWithoutHoldingIsNoop(t *testing.T) {
	ctx := context.Background()
	d := newTestLock(t, shared.NewMemory())
	if err := d.Unlock(ctx, "never-held"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestRenewExtendsOwnLease(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	a := newTestLock(t, store)
	b := newTestLock(t, store)

	if ok, _ := a.TryLock(ctx, "k", time.Second, time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	ok, err := a.Renew(ctx, "k", time.Hour)
	if err != nil || !ok {
		t.Fatalf("renew = %v,%v", ok, err)
	}
	remaining, err := a.RemainingLease(ctx, "k")
	if err != nil || remaining <= time.Minute {
		t.Fatalf("remaining = %v,%v, want > 1m", remaining, err)
	}

	// A non-holder cannot renew.
	ok, err = b.Renew(ctx, "k", time.Hour)
	if err != nil || ok {
		t.Fatalf("foreign renew = %v,%v", ok, err)
	}
}

func TestForceUnlock(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	a := newTestLock(t, store)
	b := newTestLock(t, store)

	if ok, _ := a.TryLock(ctx, "k", time.Second, time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	removed, err := b.ForceUnlock(ctx, "k")
	if err != nil || !removed {
		t.Fatalf("force unlock = %v,%v", removed, err)
	}
	if locked, _ := b.IsLocked(ctx, "k"); locked {
		t.Fatal("still locked after force unlock")
	}
}

func TestMutualExclusionUnderContention(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()

	var inside, maxInside int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := newTestLock(t, store)
			for j := 0; j < 5; j++ {
				ok, err := d.TryLock(ctx, "k", 5*time.Second, time.Minute)
				if err != nil || !ok {
					t.Errorf("acquire = %v,%v", ok, err)
					return
				}
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				if err := d.Unlock(ctx, "k"); err != nil {
					t.Errorf("unlock: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("critical section held by %d at once", maxInside)
	}
}

func TestCancelledWaitIsNotAnError(t *testing.T) {
	store := shared.NewMemory()
	a := newTestLock(t, store)
	b := newTestLock(t, store)

	if ok, _ := a.TryLock(context.Background(), "k", time.Second, time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	ok, err := b.TryLock(ctx, "k", 5*time.Second, time.Minute)
	if err != nil {
		t.Fatalf("cancelled wait errored: %v", err)
	}
	if ok {
		t.Fatal("lock granted to a cancelled waiter")
	}
}
