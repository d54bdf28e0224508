package surgecache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/surgecache/internal/wire"
	"github.com/unkn0wn-root/surgecache/logging"
)

type loadResult[V any] struct {
	v     V
	found bool
}

// GetOrLoad reads through the tiers and, on a miss, loads from the source of
// truth. Concurrent in-process loads of the same key are coalesced into one
// loader call. A loader answer of "absent" is cached as a short-lived
// sentinel so the next wave of lookups for the nonexistent key hits the
// cache, not the source.
func (c *cache[V]) GetOrLoad(ctx context.Context, key string, load LoadFunc[V], ttl time.Duration) (V, bool, error) {
	var zero V
	if c.disabled {
		v, found, err := load(ctx)
		if err != nil {
			return zero, false, err
		}
		return v, found, nil
	}

	nk := c.key(key)
	if v, ok, done := c.tryCached(ctx, nk); done {
		return v, ok, nil
	}

	res, err, _ := c.group.Do(nk, func() (any, error) {
		// Another goroutine may have populated while we queued.
		if v, ok, done := c.tryCached(ctx, nk); done {
			return loadResult[V]{v: v, found: ok}, nil
		}
		return c.loadAndStore(ctx, nk, load, ttl)
	})
	if err != nil {
		return zero, false, err
	}
	lr := res.(loadResult[V])
	return lr.v, lr.found, nil
}

// GetOrLoadGuarded is GetOrLoad with cross-process protection: the loader
// runs only under the distributed load lock, so when a hot key expires, one
// process rebuilds it and every other process re-reads the rebuilt entry
// instead of stampeding the source.
func (c *cache[V]) GetOrLoadGuarded(ctx context.Context, key string, load LoadFunc[V], ttl, lockWait time.Duration) (V, bool, error) {
	var zero V
	if c.disabled {
		v, found, err := load(ctx)
		if err != nil {
			return zero, false, err
		}
		return v, found, nil
	}
	if c.lock == nil {
		return zero, false, ErrNoLock
	}

	if lockWait <= 0 {
		lockWait = c.lockWait
	}

	nk := c.key(key)
	if v, ok, done := c.tryCached(ctx, nk); done {
		return v, ok, nil
	}

	res, err, _ := c.group.Do(nk, func() (any, error) {
		if v, ok, done := c.tryCached(ctx, nk); done {
			return loadResult[V]{v: v, found: ok}, nil
		}

		lockKey := "load:" + nk
		acquired, lerr := c.lock.TryLock(ctx, lockKey, lockWait, c.lockLease)
		if lerr != nil {
			return nil, lerr
		}
		if !acquired {
			return c.awaitWinner(ctx, nk)
		}
		defer func() {
			if uerr := c.lock.Unlock(context.WithoutCancel(ctx), lockKey); uerr != nil {
				c.log.Warn("load lock release failed", logging.Fields{"key": nk, "err": uerr})
			}
		}()

		// Double-check: the previous holder may have just populated.
		if v, ok, done := c.tryCached(ctx, nk); done {
			return loadResult[V]{v: v, found: ok}, nil
		}
		return c.loadAndStore(ctx, nk, load, ttl)
	})
	if err != nil {
		return zero, false, err
	}
	lr := res.(loadResult[V])
	return lr.v, lr.found, nil
}

// tryCached resolves nk from the tiers. done=false means a genuine miss the
// caller must load for.
func (c *cache[V]) tryCached(ctx context.Context, nk string) (V, bool, bool) {
	var zero V
	payload, state := c.lookup(ctx, nk)
	switch state {
	case entryHit:
		v, err := c.codec.Decode(payload)
		if err != nil {
			if c.loc != nil {
				c.loc.Del(nk)
			}
			_, _ = c.shared.Del(ctx, nk)
			return zero, false, false
		}
		c.counters.Hit()
		return v, true, true
	case entryNull:
		c.counters.Hit()
		return zero, false, true
	default:
		c.counters.Miss()
		return zero, false, false
	}
}

// loadAndStore runs the loader and publishes its answer: a framed value
// under ttl, or the absent sentinel under the null TTL.
func (c *cache[V]) loadAndStore(ctx context.Context, nk string, load LoadFunc[V], ttl time.Duration) (loadResult[V], error) {
	var zero loadResult[V]
	if ttl <= 0 {
		ttl = c.ttl
	}
	start := time.Now()
	v, found, err := load(ctx)
	c.counters.AddLoadTime(time.Since(start).Nanoseconds())
	if err != nil {
		return zero, err
	}

	if !found {
		sentinel := wire.EncodeNull()
		if serr := c.shared.Set(ctx, nk, sentinel, c.nullTTL); serr != nil {
			c.log.Warn("absent sentinel not cached", logging.Fields{"key": nk, "err": serr})
		} else if c.loc != nil {
			c.loc.Set(nk, sentinel)
		}
		return loadResult[V]{}, nil
	}

	payload, cerr := c.codec.Encode(v)
	if cerr != nil {
		return zero, cerr
	}
	framed := wire.EncodeValue(payload)
	if serr := c.shared.Set(ctx, nk, framed, ttl); serr != nil {
		// The value is good even if caching it failed; return it and let
		// the next miss retry the write.
		c.log.Warn("loaded value not cached", logging.Fields{"key": nk, "err": serr})
		return loadResult[V]{v: v, found: true}, nil
	}
	if c.loc != nil {
		c.loc.Set(nk, framed)
	}
	c.counters.Put()
	return loadResult[V]{v: v, found: true}, nil
}

// awaitWinner is the lock loser's path: the winner is (or was) rebuilding
// the entry, so poll the tiers briefly instead of loading. Giving up is not
// an error: the caller degrades to absent rather than join the stampede on
// the source.
func (c *cache[V]) awaitWinner(ctx context.Context, nk string) (loadResult[V], error) {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return loadResult[V]{}, ctx.Err()
		case <-time.After(c.retryDelay):
		}
		if v, ok, done := c.tryCached(ctx, nk); done {
			return loadResult[V]{v: v, found: ok}, nil
		}
	}
	c.log.Warn("guarded load degraded to absent", logging.Fields{"key": nk})
	return loadResult[V]{}, nil
}
