package stock

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/unkn0wn-root/surgecache/filter"
	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/shared"
)

const defaultStockTTL = 24 * time.Hour

// Warmer seeds shared-tier stock counters from the backing store before an
// activity opens, so the first wave of traffic never races to initialize
// them. Seeding is set-if-absent: a warmer restart never clobbers a counter
// that live deductions have already moved.
type Warmer struct {
	backing  Backing
	store    shared.Store
	filter   filter.Filter
	stockTTL time.Duration
	log      logging.Logger
}

type WarmerConfig struct {
	Backing Backing      // required
	Store   shared.Store // required
	// Filter, when set, learns every warmed activity id.
	Filter filter.Filter
	// StockTTL bounds the counter's lifetime; defaults to 24h.
	StockTTL time.Duration
	Logger   logging.Logger
}

func NewWarmer(cfg WarmerConfig) (*Warmer, error) {
	if cfg.Backing == nil {
		return nil, errors.New("stock: backing store is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("stock: shared store is required")
	}
	w := &Warmer{
		backing:  cfg.Backing,
		store:    cfg.Store,
		filter:   cfg.Filter,
		stockTTL: cfg.StockTTL,
		log:      logging.OrNop(cfg.Logger),
	}
	if w.stockTTL <= 0 {
		w.stockTTL = defaultStockTTL
	}
	return w, nil
}

// Warm loads all eligible records and seeds their counters. Returns the
// number of counters this run actually initialized; already-seeded counters
// count as skipped, not failed. A failed record aborts the run — a partial
// warm with an unknown gap is worse than a retriable error.
func (w *Warmer) Warm(ctx context.Context) (int, error) {
	records, err := w.backing.ListStocks(ctx)
	if err != nil {
		return 0, err
	}
	seeded := 0
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ok, err := w.store.SetIfAbsent(ctx, StockKey(r.ID),
			[]byte(strconv.FormatInt(r.Available, 10)), w.stockTTL)
		if err != nil {
			return seeded, err
		}
		if ok {
			seeded++
		}
		ids = append(ids, r.ID)
	}
	if w.filter != nil && len(ids) > 0 {
		if err := w.filter.AddAll(ctx, ids); err != nil {
			return seeded, err
		}
	}
	w.log.Info("stock counters warmed", logging.Fields{
		"records": len(records),
		"seeded":  seeded,
	})
	return seeded, nil
}

// WarmOne seeds a single activity, for on-demand warming when an activity is
// created after the boot-time run.
func (w *Warmer) WarmOne(ctx context.Context, id int64) (bool, error) {
	rec, found, err := w.backing.LoadByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	ok, err := w.store.SetIfAbsent(ctx, StockKey(rec.ID),
		[]byte(strconv.FormatInt(rec.Available, 10)), w.stockTTL)
	if err != nil {
		return false, err
	}
	if w.filter != nil {
		if ferr := w.filter.Add(ctx, rec.ID); ferr != nil {
			return ok, ferr
		}
	}
	return ok, nil
}
