package stock

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/surgecache/logging"
)

// Record is a stock row in the backing store.
type Record struct {
	ID           int64
	Available    int64
	Version      int64
	LimitPerUser int64
}

// Backing is the durable store behind the cache counters. Implementations
// must make DeductStock conditional on sufficient stock in a single
// statement (or transaction) so that concurrent deductions cannot oversell.
type Backing interface {
	LoadByID(ctx context.Context, id int64) (Record, bool, error)
	// DeductStock subtracts qty if at least qty remains; returns whether the
	// row changed.
	DeductStock(ctx context.Context, id, qty int64) (bool, error)
	RestoreStock(ctx context.Context, id, qty int64) (bool, error)
	// ListStocks returns all records eligible for warming.
	ListStocks(ctx context.Context) ([]Record, error)
}

// Store deducts directly against the backing store, relying on its
// conditional-update guard for concurrency safety. Every deduction is
// durable the moment it returns, at the cost of a database round trip per
// attempt — the fallback when the shared cache tier is unavailable or when
// an activity's volume does not justify cache counters.
type Store struct {
	backing Backing
	log     logging.Logger
}

var _ Strategy = (*Store)(nil)

func NewStore(backing Backing, log logging.Logger) (*Store, error) {
	if backing == nil {
		return nil, errors.New("stock: backing store is required")
	}
	return &Store{backing: backing, log: logging.OrNop(log)}, nil
}

func (s *Store) Kind() Kind { return KindStore }

func (s *Store) Deduct(ctx context.Context, req Request) (bool, error) {
	if req.Qty <= 0 {
		return false, errors.New("stock: quantity must be positive")
	}
	return s.backing.DeductStock(ctx, req.ActivityID, req.Qty)
}

func (s *Store) Restore(ctx context.Context, activityID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, errors.New("stock: quantity must be positive")
	}
	return s.backing.RestoreStock(ctx, activityID, qty)
}
