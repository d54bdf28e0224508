// Package stock implements pluggable deduction strategies for flash-sale
// inventory. All strategies share one contract: a deduction either fully
// applies or leaves state unchanged, insufficient stock is a business
// outcome (false, nil), and infrastructure failure is an error.
package stock

import (
	"context"
	"fmt"
)

// Kind names a deduction strategy. The set is closed; selection by any other
// value is an error, never a silent fallback.
type Kind string

const (
	// KindCounter decrements a shared-tier counter and compensates on
	// oversell. Fastest, briefly visible negative values.
	KindCounter Kind = "counter"
	// KindScripted checks limits and stock and deducts in one server-side
	// script. No transient negatives.
	KindScripted Kind = "scripted"
	// KindStore deducts against the backing store with an optimistic
	// concurrency guard. Durable, slowest.
	KindStore Kind = "store"
)

// Request identifies one deduction attempt.
type Request struct {
	ActivityID int64
	UserID     int64
	Qty        int64
}

// Strategy deducts and restores inventory for one activity.
//
// Deduct returns (true, nil) when the full quantity was taken, (false, nil)
// when stock was insufficient or a business limit blocked the purchase, and
// a non-nil error only for infrastructure failure — callers must not treat
// an error as "sold out".
type Strategy interface {
	Kind() Kind
	Deduct(ctx context.Context, req Request) (bool, error)
	// Restore returns qty to the activity's stock, compensating a deduction
	// whose downstream step (order creation, payment) failed.
	Restore(ctx context.Context, activityID, qty int64) (bool, error)
}

// Selector holds the configured strategies and the default choice.
type Selector struct {
	byKind map[Kind]Strategy
	def    Kind
}

// NewSelector registers the given strategies and marks def as the default.
// Duplicate kinds and a default with no registered strategy are errors.
func NewSelector(def Kind, strategies ...Strategy) (*Selector, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("stock: no strategies registered")
	}
	byKind := make(map[Kind]Strategy, len(strategies))
	for _, s := range strategies {
		if _, dup := byKind[s.Kind()]; dup {
			return nil, fmt.Errorf("stock: duplicate strategy %q", s.Kind())
		}
		byKind[s.Kind()] = s
	}
	if _, ok := byKind[def]; !ok {
		return nil, fmt.Errorf("stock: default strategy %q not registered", def)
	}
	return &Selector{byKind: byKind, def: def}, nil
}

// Get returns the strategy registered for k.
func (s *Selector) Get(k Kind) (Strategy, error) {
	st, ok := s.byKind[k]
	if !ok {
		return nil, fmt.Errorf("stock: unknown strategy %q", k)
	}
	return st, nil
}

// Default returns the strategy configured as the default.
func (s *Selector) Default() Strategy { return s.byKind[s.def] }
