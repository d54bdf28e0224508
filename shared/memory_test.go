package shared

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("get = %q,%v,%v", got, ok, err)
	}

	removed, err := m.Del(ctx, "k")
	if err != nil || !removed {
		t.Fatalf("del = %v,%v", removed, err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key survived delete")
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key survived its TTL")
	}
}

func TestSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.SetIfAbsent(ctx, "k", []byte("first"), 0)
	if err != nil || !ok {
		t.Fatalf("first setnx = %v,%v", ok, err)
	}
	ok, err = m.SetIfAbsent(ctx, "k", []byte("second"), 0)
	if err != nil || ok {
		t.Fatalf("second setnx = %v,%v, want refusal", ok, err)
	}
	got, _, _ := m.Get(ctx, "k")
	if string(got) != "first" {
		t.Fatalf("value = %q, want original", got)
	}
}

func TestIncrByInitializesToDelta(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.IncrBy(ctx, "c", 5)
	if err != nil || n != 5 {
		t.Fatalf("incr absent = %d,%v, want 5", n, err)
	}
	n, err = m.DecrBy(ctx, "c", 2)
	if err != nil || n != 3 {
		t.Fatalf("decr = %d,%v, want 3", n, err)
	}
}

func TestDeductStockCodes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	res, err := m.DeductStock(ctx, "s", 1)
	if err != nil || res != DeductKeyMissing {
		t.Fatalf("deduct absent = %d,%v, want %d", res, err, DeductKeyMissing)
	}

	if err := m.Set(ctx, "s", []byte("3"), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err = m.DeductStock(ctx, "s", 5)
	if err != nil || res != DeductInsufficient {
		t.Fatalf("deduct too much = %d,%v, want %d", res, err, DeductInsufficient)
	}
	res, err = m.DeductStock(ctx, "s", 2)
	if err != nil || res != 1 {
		t.Fatalf("deduct = %d,%v, want 1", res, err)
	}
	if got, _, _ := m.Get(ctx, "s"); string(got) != "1" {
		t.Fatalf("counter = %q, want 1", got)
	}
}

func TestCheckAndDeductCodes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	res, err := m.CheckAndDeduct(ctx, "s", "l", 7, 1, 1, 2)
	if err != nil || res != CheckKeyMissing {
		t.Fatalf("unwarmed = %d,%v, want %d", res, err, CheckKeyMissing)
	}

	if err := m.Set(ctx, "s", []byte("10"), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err = m.CheckAndDeduct(ctx, "s", "l", 7, 1, 1, 2)
	if err != nil || res != 9 {
		t.Fatalf("first buy = %d,%v, want 9", res, err)
	}
	res, err = m.CheckAndDeduct(ctx, "s", "l", 7, 1, 1, 2)
	if err != nil || res != 8 {
		t.Fatalf("second buy = %d,%v, want 8", res, err)
	}
	// Third unit exceeds the cumulative limit of 2.
	res, err = m.CheckAndDeduct(ctx, "s", "l", 7, 1, 1, 2)
	if err != nil || res != CheckLimitExceeded {
		t.Fatalf("over limit = %d,%v, want %d", res, err, CheckLimitExceeded)
	}
	// A different user still buys.
	res, err = m.CheckAndDeduct(ctx, "s", "l", 8, 1, 2, 2)
	if err != nil || res != 6 {
		t.Fatalf("other user = %d,%v, want 6", res, err)
	}

	res, err = m.CheckAndDeduct(ctx, "s", "l", 9, 1, 7, 10)
	if err != nil || res != CheckInsufficient {
		t.Fatalf("insufficient = %d,%v, want %d", res, err, CheckInsufficient)
	}
}

func TestConcurrentDeductNeverOversells(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Set(ctx, "s", []byte("10"), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const callers = 40
	var wg sync.WaitGroup
	results := make(chan int64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.DeductStock(ctx, "s", 1)
			if err != nil {
				t.Errorf("deduct: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for res := range results {
		if res >= 0 {
			won++
		}
	}
	if won != 10 {
		t.Fatalf("%d deductions succeeded, want 10", won)
	}
	if got, _, _ := m.Get(ctx, "s"); string(got) != "0" {
		t.Fatalf("final counter = %q, want 0", got)
	}
}

func TestCompareAndDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Set(ctx, "k", []byte("owner-a"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	ok, err := m.CompareAndDel(ctx, "k", []byte("owner-b"))
	if err != nil || ok {
		t.Fatalf("wrong owner deleted = %v,%v", ok, err)
	}
	ok, err = m.CompareAndDel(ctx, "k", []byte("owner-a"))
	if err != nil || !ok {
		t.Fatalf("right owner refused = %v,%v", ok, err)
	}
}

func TestCompareAndExpire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Set(ctx, "k", []byte("owner-a"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	ok, err := m.CompareAndExpire(ctx, "k", []byte("owner-b"), time.Minute)
	if err != nil || ok {
		t.Fatalf("wrong owner renewed = %v,%v", ok, err)
	}
	ok, err = m.CompareAndExpire(ctx, "k", []byte("owner-a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("right owner refused = %v,%v", ok, err)
	}
	ttl, err := m.TTL(ctx, "k")
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl after renew = %v,%v", ttl, err)
	}
}

func TestTTLStates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ttl, err := m.TTL(ctx, "absent")
	if err != nil || ttl != 0 {
		t.Fatalf("absent ttl = %v,%v, want 0", ttl, err)
	}
	if err := m.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	ttl, err = m.TTL(ctx, "forever")
	if err != nil || ttl != NoExpiry {
		t.Fatalf("no-expiry ttl = %v,%v, want NoExpiry", ttl, err)
	}
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 3; i++ {
		if err := m.QueuePush(ctx, "q", "t"+strconv.Itoa(i), time.Minute); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	head, err := m.QueuePeek(ctx, "q")
	if err != nil || head != "t0" {
		t.Fatalf("head = %q,%v, want t0", head, err)
	}

	// Removing a middle token keeps order for the rest.
	if err := m.QueueRemove(ctx, "q", "t1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.QueueRemove(ctx, "q", "t0"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	head, err = m.QueuePeek(ctx, "q")
	if err != nil || head != "t2" {
		t.Fatalf("head = %q,%v, want t2", head, err)
	}
}

func TestBits(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.SetBits(ctx, "bf", []uint64{1, 5, 9}); err != nil {
		t.Fatalf("set bits: %v", err)
	}
	bits, err := m.GetBits(ctx, "bf", []uint64{1, 2, 5, 9})
	if err != nil {
		t.Fatalf("get bits: %v", err)
	}
	want := []bool{true, false, true, true}
	for i := range want {
		if bits[i] != want[i] {
			t.Fatalf("bit %d = %v, want %v", i, bits[i], want[i])
		}
	}
}

func TestDelByPattern(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, k := range []string{"activity:1", "activity:2", "user:1"} {
		if err := m.Set(ctx, k, []byte("v"), 0); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	n, err := m.DelByPattern(ctx, "activity:*")
	if err != nil || n != 2 {
		t.Fatalf("purge = %d,%v, want 2", n, err)
	}
	if _, ok, _ := m.Get(ctx, "user:1"); !ok {
		t.Fatal("unrelated key purged")
	}
}
