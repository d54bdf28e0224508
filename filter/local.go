package filter

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Local is an in-process bloom filter sized for an expected cardinality and
// target false-positive rate. Cheap and allocation-free on the read path,
// but each process sees only its own additions — use Shared when processes
// must agree.
type Local struct {
	mu sync.RWMutex
	bf *bloom.BloomFilter
}

var _ Filter = (*Local)(nil)

// NewLocal sizes the filter for n expected elements at the given
// false-positive rate (e.g. 10_000, 0.001).
func NewLocal(n uint, fpRate float64) (*Local, error) {
	if n == 0 || fpRate <= 0 || fpRate >= 1 {
		return nil, errors.New("filter: invalid sizing")
	}
	return &Local{bf: bloom.NewWithEstimates(n, fpRate)}, nil
}

func idBytes(id int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func (l *Local) MightContain(_ context.Context, id int64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bf.Test(idBytes(id)), nil
}

func (l *Local) Add(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bf.Add(idBytes(id))
	return nil
}

func (l *Local) AddAll(_ context.Context, ids []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.bf.Add(idBytes(id))
	}
	return nil
}
