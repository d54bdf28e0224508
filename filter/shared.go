package filter

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/surgecache/shared"
)

// Shared is a bloom filter whose bit array lives on the shared tier, so every
// process consults and extends the same set. Bit offsets derive from two
// xxhash values combined as h1 + i*h2 mod m, giving k independent positions
// from two hash computations.
type Shared struct {
	store shared.Store
	key   string
	m     uint64
	k     uint64
}

var _ Filter = (*Shared)(nil)

// NewShared creates a filter stored under key, sized for n expected elements
// at the given false-positive rate.
func NewShared(store shared.Store, key string, n uint, fpRate float64) (*Shared, error) {
	if store == nil {
		return nil, errors.New("filter: shared store is required")
	}
	if key == "" {
		return nil, errors.New("filter: key is required")
	}
	if n == 0 || fpRate <= 0 || fpRate >= 1 {
		return nil, errors.New("filter: invalid sizing")
	}
	m, k := bloom.EstimateParameters(n, fpRate)
	return &Shared{store: store, key: key, m: uint64(m), k: uint64(k)}, nil
}

func (s *Shared) offsets(id int64) []uint64 {
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(id))
	h1 := xxhash.Sum64(buf[:8])
	buf[8] = 0x9e
	h2 := xxhash.Sum64(buf[:])
	out := make([]uint64, s.k)
	for i := uint64(0); i < s.k; i++ {
		out[i] = (h1 + i*h2) % s.m
	}
	return out
}

func (s *Shared) MightContain(ctx context.Context, id int64) (bool, error) {
	bits, err := s.store.GetBits(ctx, s.key, s.offsets(id))
	if err != nil {
		return false, err
	}
	for _, b := range bits {
		if !b {
			return false, nil
		}
	}
	return true, nil
}

func (s *Shared) Add(ctx context.Context, id int64) error {
	return s.store.SetBits(ctx, s.key, s.offsets(id))
}

func (s *Shared) AddAll(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	all := make([]uint64, 0, uint64(len(ids))*s.k)
	for _, id := range ids {
		all = append(all, s.offsets(id)...)
	}
	return s.store.SetBits(ctx, s.key, all)
}
