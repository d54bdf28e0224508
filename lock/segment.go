package lock

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultSegments = 16

type segment struct {
	mu       sync.Mutex
	count    atomic.Int64
	waitNs   atomic.Int64
	holdNs   atomic.Int64
	waiting  atomic.Int64
	locked   atomic.Bool
	lockedAt time.Time // guarded by mu
}

// SegmentManager serializes concurrent access to the same business id within
// one process using a fixed power-of-two array of mutexes: the id is hashed,
// the hash xor-folded and masked into the index space. The lock-object count
// stays constant regardless of id cardinality and unrelated ids proceed in
// parallel unless they land in the same segment — an accepted false-sharing
// cost, bounded by the segment count.
//
// The segment lock protects compound check-then-act sequences; the
// correctness of a single scripted decrement never depends on it.
type SegmentManager struct {
	segs []segment
	mask uint64
}

// NewSegmentManager creates a manager with n segments. n is rounded up to
// the next power of two; 0 means 16.
func NewSegmentManager(n int) (*SegmentManager, error) {
	if n < 0 {
		return nil, errors.New("lock: negative segment count")
	}
	if n == 0 {
		n = defaultSegments
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &SegmentManager{
		segs: make([]segment, size),
		mask: uint64(size - 1),
	}, nil
}

// Index returns the segment an id folds into.
func (m *SegmentManager) Index(id int64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	h := xxhash.Sum64(buf[:])
	return int((h ^ (h >> 32)) & m.mask)
}

// Lock blocks until the id's segment is held. Waiting is bounded only by
// in-process contention; callers needing a bound should use TryLock or wrap
// the call with their own timeout.
func (m *SegmentManager) Lock(id int64) {
	s := &m.segs[m.Index(id)]
	start := time.Now()
	s.waiting.Add(1)
	s.mu.Lock()
	s.waiting.Add(-1)
	s.waitNs.Add(time.Since(start).Nanoseconds())
	s.count.Add(1)
	s.locked.Store(true)
	s.lockedAt = time.Now()
}

// Unlock releases the id's segment and records hold time.
func (m *SegmentManager) Unlock(id int64) {
	s := &m.segs[m.Index(id)]
	s.holdNs.Add(time.Since(s.lockedAt).Nanoseconds())
	s.locked.Store(false)
	s.mu.Unlock()
}

// TryLock acquires the segment only if it is immediately free.
func (m *SegmentManager) TryLock(id int64) bool {
	s := &m.segs[m.Index(id)]
	if !s.mu.TryLock() {
		return false
	}
	s.count.Add(1)
	s.locked.Store(true)
	s.lockedAt = time.Now()
	return true
}

// Do runs fn while holding the id's segment. The release and the hold-time
// measurement run on every exit path, including panics.
func (m *SegmentManager) Do(id int64, fn func()) {
	m.Lock(id)
	defer m.Unlock(id)
	fn()
}

// SegmentStat is a point-in-time view of one segment.
type SegmentStat struct {
	Index   int
	Count   int64
	WaitNs  int64
	HoldNs  int64
	Waiting int64
	Locked  bool
}

// ManagerStats aggregates all segments for contention diagnosis.
type ManagerStats struct {
	Segments   []SegmentStat
	TotalCount int64
	TotalWait  int64
	TotalHold  int64
	MaxWaiting int64
	AvgWaitNs  float64
	AvgHoldNs  float64
}

func (m *SegmentManager) Stats() ManagerStats {
	out := ManagerStats{Segments: make([]SegmentStat, len(m.segs))}
	for i := range m.segs {
		s := &m.segs[i]
		st := SegmentStat{
			Index:   i,
			Count:   s.count.Load(),
			WaitNs:  s.waitNs.Load(),
			HoldNs:  s.holdNs.Load(),
			Waiting: s.waiting.Load(),
			Locked:  s.locked.Load(),
		}
		out.Segments[i] = st
		out.TotalCount += st.Count
		out.TotalWait += st.WaitNs
		out.TotalHold += st.HoldNs
		if st.Waiting > out.MaxWaiting {
			out.MaxWaiting = st.Waiting
		}
	}
	if out.TotalCount > 0 {
		out.AvgWaitNs = float64(out.TotalWait) / float64(out.TotalCount)
		out.AvgHoldNs = float64(out.TotalHold) / float64(out.TotalCount)
	}
	return out
}

// ResetStats zeroes the per-segment counters.
func (m *SegmentManager) ResetStats() {
	for i := range m.segs {
		s := &m.segs[i]
		s.count.Store(0)
		s.waitNs.Store(0)
		s.holdNs.Store(0)
	}
}
