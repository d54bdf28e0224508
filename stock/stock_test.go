package stock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/unkn0wn-root/surgecache/shared"
)

func seedStock(t *testing.T, store shared.Store, activityID, qty int64) {
	t.Helper()
	err := store.Set(context.Background(), StockKey(activityID),
		[]byte(strconv.FormatInt(qty, 10)), 0)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func stockValue(t *testing.T, store shared.Store, activityID int64) int64 {
	t.Helper()
	raw, ok, err := store.Get(context.Background(), StockKey(activityID))
	if err != nil || !ok {
		t.Fatalf("stock key read = %v,%v", ok, err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		t.Fatalf("stock not numeric: %q", raw)
	}
	return n
}

// runConcurrent fires one Deduct per caller and returns how many succeeded.
func runConcurrent(t *testing.T, s Strategy, callers int, req func(i int) Request) int {
	t.Helper()
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Deduct(context.Background(), req(i))
			if err != nil {
				t.Errorf("deduct: %v", err)
				return
			}
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)
	won := 0
	for ok := range results {
		if ok {
			won++
		}
	}
	return won
}

func TestCounterDeductAndSellOut(t *testing.T) {
	store := shared.NewMemory()
	seedStock(t, store, 1, 10)
	s, err := NewCounter(store, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Concurrent: a loser's in-flight compensation can cost a concurrent
	// caller its unit, so the hard guarantee is no oversell, not a full
	// sellout in one wave.
	won := runConcurrent(t, s, 25, func(i int) Request {
		return Request{ActivityID: 1, UserID: int64(i), Qty: 1}
	})
	if won > 10 {
		t.Fatalf("%d deductions succeeded, oversold past 10", won)
	}
	if left := stockValue(t, store, 1); left != 10-int64(won) {
		t.Fatalf("final stock = %d, want %d (compensation drift)", left, 10-won)
	}

	// Sequentially the remaining units sell out exactly.
	ctx := context.Background()
	for left := int64(10) - int64(won); left > 0; left-- {
		ok, err := s.Deduct(ctx, Request{ActivityID: 1, UserID: 99, Qty: 1})
		if err != nil || !ok {
			t.Fatalf("sequential deduct = %v,%v with %d left", ok, err, left)
		}
	}
	ok, err := s.Deduct(ctx, Request{ActivityID: 1, UserID: 99, Qty: 1})
	if err != nil || ok {
		t.Fatalf("deduct after sellout = %v,%v", ok, err)
	}
	if left := stockValue(t, store, 1); left != 0 {
		t.Fatalf("stock after failed deduct = %d, want 0 (compensation missing)", left)
	}
}

func TestCounterRestore(t *testing.T) {
	store := shared.NewMemory()
	seedStock(t, store, 1, 5)
	s, err := NewCounter(store, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if ok, err := s.Deduct(context.Background(), Request{ActivityID: 1, UserID: 1, Qty: 3}); err != nil || !ok {
		t.Fatalf("deduct = %v,%v", ok, err)
	}
	if ok, err := s.Restore(context.Background(), 1, 3); err != nil || !ok {
		t.Fatalf("restore = %v,%v", ok, err)
	}
	if left := stockValue(t, store, 1); left != 5 {
		t.Fatalf("stock after restore = %d, want 5", left)
	}
}

func TestCounterRejectsNonPositiveQty(t *testing.T) {
	s, err := NewCounter(shared.NewMemory(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Deduct(context.Background(), Request{ActivityID: 1, Qty: 0}); err == nil {
		t.Fatal("zero qty accepted")
	}
	if _, err := s.Restore(context.Background(), 1, -1); err == nil {
		t.Fatal("negative restore accepted")
	}
}

func TestScriptedNoOversell(t *testing.T) {
	store := shared.NewMemory()
	seedStock(t, store, 2, 10)
	s, err := NewScripted(ScriptedConfig{Store: store})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	won := runConcurrent(t, s, 25, func(i int) Request {
		return Request{ActivityID: 2, UserID: int64(i), Qty: 1}
	})
	if won != 10 {
		t.Fatalf("%d deductions succeeded, want 10", won)
	}
	if left := stockValue(t, store, 2); left != 0 {
		t.Fatalf("final stock = %d, want 0", left)
	}
}

func TestScriptedUnwarmedStock(t *testing.T) {
	s, err := NewScripted(ScriptedConfig{Store: shared.NewMemory()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ok, err := s.Deduct(context.Background(), Request{ActivityID: 404, UserID: 1, Qty: 1})
	if err != nil || ok {
		t.Fatalf("deduct unwarmed = %v,%v, want business refusal", ok, err)
	}
}

func TestScriptedPerUserLimit(t *testing.T) {
	store := shared.NewMemory()
	seedStock(t, store, 3, 100)
	s, err := NewScripted(ScriptedConfig{Store: store, LimitPerUser: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := s.Deduct(ctx, Request{ActivityID: 3, UserID: 7, Qty: 1})
		if err != nil || !ok {
			t.Fatalf("buy %d = %v,%v", i, ok, err)
		}
	}
	ok, err := s.Deduct(ctx, Request{ActivityID: 3, UserID: 7, Qty: 1})
	if err != nil || ok {
		t.Fatalf("over-limit buy = %v,%v, want refusal", ok, err)
	}
	// Another user is unaffected.
	ok, err = s.Deduct(ctx, Request{ActivityID: 3, UserID: 8, Qty: 2})
	if err != nil || !ok {
		t.Fatalf("other user = %v,%v", ok, err)
	}
	if left := stockValue(t, store, 3); left != 96 {
		t.Fatalf("stock = %d, want 96", left)
	}
}

// fakeBacking is an in-memory stock.Backing with the conditional-update
// guard of the real store.
type fakeBacking struct {
	mu      sync.Mutex
	records map[int64]*Record
	fail    error
}

func newFakeBacking(records ...Record) *fakeBacking {
	fb := &fakeBacking{records: make(map[int64]*Record)}
	for i := range records {
		r := records[i]
		fb.records[r.ID] = &r
	}
	return fb
}

func (f *fakeBacking) LoadByID(_ context.Context, id int64) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return Record{}, false, f.fail
	}
	r, ok := f.records[id]
	if !ok {
		return Record{}, false, nil
	}
	return *r, true, nil
}

func (f *fakeBacking) DeductStock(_ context.Context, id, qty int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return false, f.fail
	}
	r, ok := f.records[id]
	if !ok || r.Available < qty {
		return false, nil
	}
	r.Available -= qty
	r.Version++
	return true, nil
}

func (f *fakeBacking) RestoreStock(_ context.Context, id, qty int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return false, nil
	}
	r.Available += qty
	r.Version++
	return true, nil
}

func (f *fakeBacking) ListStocks(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([]Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, *r)
	}
	return out, nil
}

func TestStoreStrategy(t *testing.T) {
	fb := newFakeBacking(Record{ID: 5, Available: 10})
	s, err := NewStore(fb, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	won := runConcurrent(t, s, 25, func(i int) Request {
		return Request{ActivityID: 5, UserID: int64(i), Qty: 1}
	})
	if won != 10 {
		t.Fatalf("%d deductions succeeded, want 10", won)
	}

	if ok, err := s.Restore(context.Background(), 5, 4); err != nil || !ok {
		t.Fatalf("restore = %v,%v", ok, err)
	}
	rec, _, _ := fb.LoadByID(context.Background(), 5)
	if rec.Available != 4 {
		t.Fatalf("available = %d, want 4", rec.Available)
	}
}

func TestStoreStrategySurfacesErrors(t *testing.T) {
	fb := newFakeBacking()
	fb.fail = errors.New("connection refused")
	s, err := NewStore(fb, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Deduct(context.Background(), Request{ActivityID: 1, Qty: 1}); err == nil {
		t.Fatal("infrastructure failure swallowed")
	}
}

func TestSelector(t *testing.T) {
	store := shared.NewMemory()
	counter, _ := NewCounter(store, nil)
	scripted, _ := NewScripted(ScriptedConfig{Store: store})

	sel, err := NewSelector(KindScripted, counter, scripted)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := sel.Default().Kind(); got != KindScripted {
		t.Fatalf("default = %q", got)
	}
	if s, err := sel.Get(KindCounter); err != nil || s.Kind() != KindCounter {
		t.Fatalf("get counter = %v,%v", s, err)
	}
	if _, err := sel.Get(Kind("bogus")); err == nil {
		t.Fatal("unknown kind resolved")
	}
	if _, err := NewSelector(KindStore, counter); err == nil {
		t.Fatal("unregistered default accepted")
	}
	if _, err := NewSelector(KindCounter, counter, counter); err == nil {
		t.Fatal("duplicate kind accepted")
	}
	if _, err := NewSelector(KindCounter); err == nil {
		t.Fatal("empty selector accepted")
	}
}

func TestWarmerSeedsWithoutClobbering(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	fb := newFakeBacking(
		Record{ID: 1, Available: 100},
		Record{ID: 2, Available: 200},
	)
	w, err := NewWarmer(WarmerConfig{Backing: fb, Store: store})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	seeded, err := w.Warm(ctx)
	if err != nil || seeded != 2 {
		t.Fatalf("warm = %d,%v, want 2", seeded, err)
	}
	if got := stockValue(t, store, 1); got != 100 {
		t.Fatalf("seeded stock = %d, want 100", got)
	}

	// Live traffic moves the counter; a re-run must not reset it.
	if _, err := store.DecrBy(ctx, StockKey(1), 30); err != nil {
		t.Fatalf("decr: %v", err)
	}
	seeded, err = w.Warm(ctx)
	if err != nil || seeded != 0 {
		t.Fatalf("second warm = %d,%v, want 0 newly seeded", seeded, err)
	}
	if got := stockValue(t, store, 1); got != 70 {
		t.Fatalf("stock after rewarm = %d, want 70", got)
	}
}

func TestWarmOne(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemory()
	fb := newFakeBacking(Record{ID: 9, Available: 50})
	w, err := NewWarmer(WarmerConfig{Backing: fb, Store: store})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ok, err := w.WarmOne(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("warmOne = %v,%v", ok, err)
	}
	ok, err = w.WarmOne(ctx, 404)
	if err != nil || ok {
		t.Fatalf("warmOne unknown id = %v,%v", ok, err)
	}
}
