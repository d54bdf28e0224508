package stock

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/surgecache/internal/util"
	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/shared"
)

// StockKeyPrefix is the shared-tier keyspace for per-activity stock counters.
const StockKeyPrefix = "activity:stock"

// LimitKeyPrefix is the keyspace for per-activity purchase bookkeeping.
const LimitKeyPrefix = "activity:limit"

// StockKey returns the counter key for an activity.
func StockKey(activityID int64) string { return util.KeyID(StockKeyPrefix, activityID) }

// LimitKey returns the per-user bookkeeping key for an activity.
func LimitKey(activityID int64) string { return util.KeyID(LimitKeyPrefix, activityID) }

// Counter deducts by atomic decrement and compensates when the result goes
// negative. The counter may read negative between the decrement and the
// compensating increment; no purchase is ever confirmed off a negative
// result, so the window is harmless to correctness. Use Scripted when even
// transient negatives are unacceptable.
type Counter struct {
	store shared.Store
	log   logging.Logger
}

var _ Strategy = (*Counter)(nil)

func NewCounter(store shared.Store, log logging.Logger) (*Counter, error) {
	if store == nil {
		return nil, errors.New("stock: shared store is required")
	}
	return &Counter{store: store, log: logging.OrNop(log)}, nil
}

func (c *Counter) Kind() Kind { return KindCounter }

func (c *Counter) Deduct(ctx context.Context, req Request) (bool, error) {
	if req.Qty <= 0 {
		return false, errors.New("stock: quantity must be positive")
	}
	key := StockKey(req.ActivityID)
	left, err := c.store.DecrBy(ctx, key, req.Qty)
	if err != nil {
		return false, err
	}
	if left < 0 {
		if _, cerr := c.store.IncrBy(ctx, key, req.Qty); cerr != nil {
			// The counter stays negative until a later Restore or reheat
			// corrects it; log loudly so the drift is visible.
			c.log.Error("stock compensation failed", logging.Fields{
				"activity": req.ActivityID,
				"qty":      req.Qty,
				"err":      cerr,
			})
			return false, cerr
		}
		return false, nil
	}
	return true, nil
}

func (c *Counter) Restore(ctx context.Context, activityID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, errors.New("stock: quantity must be positive")
	}
	if _, err := c.store.IncrBy(ctx, StockKey(activityID), qty); err != nil {
		return false, err
	}
	return true, nil
}
