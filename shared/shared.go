// Package shared defines the cross-process cache tier. It is the arbiter of
// correctness for everything that must be agreed on between processes:
// counters, the distributed-lock primitives and the shared existence filter
// all live here. The process-local tier is never a source of truth.
//
// Arithmetic and set-if-absent are single server-executed scripts: a
// get-then-set implementation would let two callers read the same
// pre-decrement value and both apply their delta, corrupting the counter
// under concurrency.
package shared

import (
	"context"
	"time"

	"github.com/unkn0wn-root/surgecache/stats"
)

// Deduct result codes returned by DeductStock (contract shared with the
// server-side script).
const (
	DeductKeyMissing   int64 = -1 // stock key absent
	DeductInsufficient int64 = -2 // qty exceeds current value
)

// CheckAndDeduct result codes.
const (
	CheckLimitExceeded int64 = -1 // user's cumulative qty would exceed the per-user limit
	CheckKeyMissing    int64 = -2 // stock key absent
	CheckInsufficient  int64 = -3 // insufficient stock
)

// NoExpiry is returned by TTL for keys that exist without an expiry.
const NoExpiry = time.Duration(-1)

// Store is the shared-tier contract. Implementations must be safe for
// concurrent use and byte-for-byte transparent for Get/Set: values come back
// exactly as written. Counter keys hold ASCII integers so that the atomic
// arithmetic operations can act on them server-side; they are not framed.
//
// Read failures are returned to the caller, who is expected to degrade them
// to misses; write failures must be surfaced (a dropped write can mask
// stale state).
type Store interface {
	// Byte entries.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) (bool, error)
	// DelByPattern removes all keys matching a glob pattern ("activity:*").
	// Administrative invalidation; returns the number of keys removed.
	DelByPattern(ctx context.Context, pattern string) (int64, error)
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Atomic counters.
	// IncrBy initializes an absent key to delta (not zero-then-add in two
	// steps). DecrBy is IncrBy with a negated delta.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)
	// DeductStock returns DeductKeyMissing, DeductInsufficient, or the new
	// value after subtraction.
	DeductStock(ctx context.Context, stockKey string, qty int64) (int64, error)
	// CheckAndDeduct validates the per-user limit and the stock level and
	// applies the decrement in one atomic step, recording the user's
	// cumulative quantity under limitKey. Returns a Check* code or the new
	// stock value.
	CheckAndDeduct(ctx context.Context, stockKey, limitKey string, userID, activityID, qty, limitPerUser int64) (int64, error)

	// Lock-support primitives (value-guarded mutations).
	CompareAndDel(ctx context.Context, key string, expect []byte) (bool, error)
	CompareAndExpire(ctx context.Context, key string, expect []byte, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key: 0 when the key is absent,
	// NoExpiry when it exists without an expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// FIFO waiter queues (fair lock acquisition order).
	QueuePush(ctx context.Context, key, token string, ttl time.Duration) error
	// QueuePeek returns the head token, or "" when the queue is empty.
	QueuePeek(ctx context.Context, key string) (string, error)
	QueueRemove(ctx context.Context, key, token string) error

	// Bitmaps (shared existence filter).
	SetBits(ctx context.Context, key string, offsets []uint64) error
	GetBits(ctx context.Context, key string, offsets []uint64) ([]bool, error)

	Stats() stats.Snapshot
	ResetStats()
	Close(ctx context.Context) error
}
