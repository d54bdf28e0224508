package surgecache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/surgecache/codec"
	"github.com/unkn0wn-root/surgecache/local"
	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/shared"
	"github.com/unkn0wn-root/surgecache/stats"
)

// Logger and Fields are re-exported so callers configuring Options don't
// need a second import.
type (
	Logger = logging.Logger
	Fields = logging.Fields
)

// NopLogger discards everything.
var NopLogger Logger = logging.Nop{}

// Locker is the distributed-lock dependency of guarded loads. Satisfied by
// lock.Distributed.
type Locker interface {
	TryLock(ctx context.Context, key string, wait, lease time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// LoadFunc fetches a value from the source of truth on a cache miss.
// found=false means the source confirmed the key absent — that answer is
// cached too (as a short-lived sentinel), so repeated lookups of
// nonexistent keys stop reaching the source.
type LoadFunc[V any] func(ctx context.Context) (v V, found bool, err error)

// Cache is the tiered cache API. V is the caller's value type; serialization
// is handled by a pluggable Codec[V].
//
// Reads consult the local tier first and fall back to the shared tier,
// backfilling local on a shared hit. Writes go to the shared tier first;
// the local tier is then updated best-effort. Shared-tier read failures
// degrade to misses; write failures are returned.
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Single
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	Set(ctx context.Context, key string, value V) error
	SetTTL(ctx context.Context, key string, value V, ttl time.Duration) error
	// Delete removes the entry from both tiers; true when the shared tier
	// actually held it.
	Delete(ctx context.Context, key string) (bool, error)

	// Bulk. Keys cached as confirmed-absent appear in neither map nor
	// missing: they are resolved, not missing.
	GetMulti(ctx context.Context, keys []string) (values map[string]V, missing []string, err error)
	SetMulti(ctx context.Context, items map[string]V, ttl time.Duration) error

	// Protected loads. ttl caches the loaded value (0 means DefaultTTL);
	// loader-confirmed absence is always cached under NullTTL.
	// GetOrLoad coalesces concurrent loads of one key in-process and caches
	// confirmed absence. GetOrLoadGuarded additionally takes the distributed
	// load lock (waiting up to lockWait, 0 means LockWait), so across all
	// processes a cold key is rebuilt once; callers that never see the
	// rebuilt entry within their wait degrade to absent, not to an error.
	GetOrLoad(ctx context.Context, key string, load LoadFunc[V], ttl time.Duration) (v V, ok bool, err error)
	GetOrLoadGuarded(ctx context.Context, key string, load LoadFunc[V], ttl, lockWait time.Duration) (v V, ok bool, err error)

	// Shared-tier counters, namespaced like values but unframed. The local
	// tier never caches counters.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)

	// PurgeByPattern removes shared-tier entries matching the glob pattern
	// (relative to the namespace). Local copies are not enumerable and age
	// out on their own clocks.
	PurgeByPattern(ctx context.Context, pattern string) (int64, error)

	Stats() Stats
	ResetStats()
}

// Stats combines per-tier and orchestrator-level snapshots.
type Stats struct {
	// Overall counts tier-agnostic outcomes: a Hit is a hit on any tier,
	// Puts are completed loads, load time is the penalty paid on misses.
	Overall stats.Snapshot
	Local   stats.Snapshot
	Shared  stats.Snapshot
}

// Options configures a Cache. Namespace, Shared and Codec are required.
type Options[V any] struct {
	// Namespace prefixes every key: "activity", "user", "order".
	Namespace string
	Shared    shared.Store
	Codec     c.Codec[V]

	// Local is the in-process tier; nil disables it.
	Local *local.Cache
	// Lock enables GetOrLoadGuarded.
	Lock   Locker
	Logger Logger

	DefaultTTL time.Duration // value entries; 0 => 10m
	// NullTTL bounds cached-absent sentinels. Deliberately short: it is the
	// staleness window after the key starts existing. 0 => 1m.
	NullTTL   time.Duration
	LockWait  time.Duration // guarded-load lock wait; 0 => 3s
	LockLease time.Duration // guarded-load lock lease; 0 => 30s
	// MissRetryDelay paces lock losers re-reading the winner's result.
	MissRetryDelay time.Duration // 0 => 50ms
	Disabled       bool
}

// New builds a Cache. With Disabled set, reads miss, writes no-op and
// protected loads call the loader directly without caching.
func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
