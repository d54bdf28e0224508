// Package filter provides the existence gate consulted before any cache or
// backing-store lookup: a probabilistic set with no false negatives and a
// tunable false-positive rate. A false positive only costs a wasted lookup;
// the filter is never the sole existence check.
package filter

import "context"

// Filter is an additive probabilistic set over business ids.
type Filter interface {
	// MightContain reports false only when id was certainly never added.
	MightContain(ctx context.Context, id int64) (bool, error)
	Add(ctx context.Context, id int64) error
	AddAll(ctx context.Context, ids []int64) error
}
