package stock

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/shared"
)

// Scripted deducts through a single server-executed script that validates
// and applies in one step, so the counter never dips below zero. With a
// positive LimitPerUser the script also enforces a cumulative per-user cap,
// recording each user's total under the activity's limit key.
type Scripted struct {
	store        shared.Store
	limitPerUser int64
	log          logging.Logger
}

var _ Strategy = (*Scripted)(nil)

type ScriptedConfig struct {
	Store shared.Store // required
	// LimitPerUser caps one user's cumulative quantity per activity.
	// Zero or negative disables the limit check.
	LimitPerUser int64
	Logger       logging.Logger
}

func NewScripted(cfg ScriptedConfig) (*Scripted, error) {
	if cfg.Store == nil {
		return nil, errors.New("stock: shared store is required")
	}
	return &Scripted{
		store:        cfg.Store,
		limitPerUser: cfg.LimitPerUser,
		log:          logging.OrNop(cfg.Logger),
	}, nil
}

func (s *Scripted) Kind() Kind { return KindScripted }

func (s *Scripted) Deduct(ctx context.Context, req Request) (bool, error) {
	if req.Qty <= 0 {
		return false, errors.New("stock: quantity must be positive")
	}
	if s.limitPerUser <= 0 {
		res, err := s.store.DeductStock(ctx, StockKey(req.ActivityID), req.Qty)
		if err != nil {
			return false, err
		}
		switch res {
		case shared.DeductKeyMissing:
			s.log.Warn("deduct on unwarmed stock", logging.Fields{"activity": req.ActivityID})
			return false, nil
		case shared.DeductInsufficient:
			return false, nil
		}
		return true, nil
	}

	res, err := s.store.CheckAndDeduct(ctx,
		StockKey(req.ActivityID), LimitKey(req.ActivityID),
		req.UserID, req.ActivityID, req.Qty, s.limitPerUser)
	if err != nil {
		return false, err
	}
	switch res {
	case shared.CheckLimitExceeded:
		s.log.Debug("per-user limit blocked deduct", logging.Fields{
			"activity": req.ActivityID,
			"user":     req.UserID,
		})
		return false, nil
	case shared.CheckKeyMissing:
		s.log.Warn("deduct on unwarmed stock", logging.Fields{"activity": req.ActivityID})
		return false, nil
	case shared.CheckInsufficient:
		return false, nil
	}
	return true, nil
}

func (s *Scripted) Restore(ctx context.Context, activityID, qty int64) (bool, error) {
	if qty <= 0 {
		return false, errors.New("stock: quantity must be positive")
	}
	if _, err := s.store.IncrBy(ctx, StockKey(activityID), qty); err != nil {
		return false, err
	}
	return true, nil
}
