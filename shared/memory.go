package shared

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/surgecache/stats"
)

type memEntry struct {
	val []byte
	exp time.Time // zero => no expiry
}

// Memory is an in-process Store with full contract coverage, including the
// atomic scripts (their atomicity comes from the store mutex here). It backs
// tests and single-process deployments; it is not a cross-process arbiter.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]memEntry
	hashes   map[string]map[string]int64 // limit bookkeeping: key -> field -> qty
	queues   map[string][]string
	bitmaps  map[string]map[uint64]struct{}
	counters stats.Counters
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		hashes:  make(map[string]map[string]int64),
		queues:  make(map[string][]string),
		bitmaps: make(map[string]map[uint64]struct{}),
	}
}

// entry returns the live entry for key, dropping it when expired.
// Callers must hold mu.
func (m *Memory) entry(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) put(key string, val []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.entries[key] = memEntry{val: val, exp: exp}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entry(key)
	if !ok {
		m.counters.Miss()
		return nil, false, nil
	}
	m.counters.Hit()
	return e.val, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	m.counters.Put()
	return nil
}

func (m *Memory) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entry(key); ok {
		return false, nil
	}
	m.put(key, value, ttl)
	m.counters.Put()
	return true, nil
}

func (m *Memory) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entry(key)
	delete(m.entries, key)
	return ok, nil
}

func (m *Memory) DelByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for k := range m.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if e, ok := m.entry(k); ok {
			m.counters.Hit()
			out[k] = e.val
		} else {
			m.counters.Miss()
		}
	}
	return out, nil
}

func (m *Memory) SetMulti(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range items {
		m.put(k, v, ttl)
	}
	m.counters.Puts(int64(len(items)))
	return nil
}

func (m *Memory) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incr(key, delta), nil
}

func (m *Memory) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return m.IncrBy(ctx, key, -delta)
}

// incr mirrors the increment_by script: absent keys initialize to delta.
// Callers must hold mu.
func (m *Memory) incr(key string, delta int64) int64 {
	cur := int64(0)
	exp := time.Time{}
	if e, ok := m.entry(key); ok {
		cur, _ = strconv.ParseInt(string(e.val), 10, 64)
		exp = e.exp
	}
	cur += delta
	m.entries[key] = memEntry{val: []byte(strconv.FormatInt(cur, 10)), exp: exp}
	return cur
}

func (m *Memory) DeductStock(_ context.Context, stockKey string, qty int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entry(stockKey)
	if !ok {
		return DeductKeyMissing, nil
	}
	cur, _ := strconv.ParseInt(string(e.val), 10, 64)
	if cur < qty {
		return DeductInsufficient, nil
	}
	return m.incr(stockKey, -qty), nil
}

func (m *Memory) CheckAndDeduct(_ context.Context, stockKey, limitKey string, userID, _, qty, limitPerUser int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	field := strconv.FormatInt(userID, 10)
	bought := m.hashes[limitKey][field]
	if bought+qty > limitPerUser {
		return CheckLimitExceeded, nil
	}
	e, ok := m.entry(stockKey)
	if !ok {
		return CheckKeyMissing, nil
	}
	cur, _ := strconv.ParseInt(string(e.val), 10, 64)
	if cur < qty {
		return CheckInsufficient, nil
	}
	left := m.incr(stockKey, -qty)
	if m.hashes[limitKey] == nil {
		m.hashes[limitKey] = make(map[string]int64)
	}
	m.hashes[limitKey][field] += qty
	return left, nil
}

func (m *Memory) CompareAndDel(_ context.Context, key string, expect []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entry(key)
	if !ok || string(e.val) != string(expect) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) CompareAndExpire(_ context.Context, key string, expect []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entry(key)
	if !ok || string(e.val) != string(expect) {
		return false, nil
	}
	m.put(key, e.val, ttl)
	return true, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entry(key)
	if !ok {
		return 0, nil
	}
	if e.exp.IsZero() {
		return NoExpiry, nil
	}
	return time.Until(e.exp), nil
}

func (m *Memory) QueuePush(_ context.Context, key, token string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[key] = append(m.queues[key], token)
	return nil
}

func (m *Memory) QueuePeek(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[key]
	if len(q) == 0 {
		return "", nil
	}
	return q[0], nil
}

func (m *Memory) QueueRemove(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[key]
	for i, t := range q {
		if t == token {
			m.queues[key] = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if len(m.queues[key]) == 0 {
		delete(m.queues, key)
	}
	return nil
}

func (m *Memory) SetBits(_ context.Context, key string, offsets []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bm := m.bitmaps[key]
	if bm == nil {
		bm = make(map[uint64]struct{})
		m.bitmaps[key] = bm
	}
	for _, off := range offsets {
		bm[off] = struct{}{}
	}
	return nil
}

func (m *Memory) GetBits(_ context.Context, key string, offsets []uint64) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bm := m.bitmaps[key]
	out := make([]bool, len(offsets))
	for i, off := range offsets {
		_, out[i] = bm[off]
	}
	return out, nil
}

func (m *Memory) Stats() stats.Snapshot { return m.counters.Snapshot() }
func (m *Memory) ResetStats()           { m.counters.Reset() }

func (m *Memory) Close(context.Context) error { return nil }
