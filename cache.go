package surgecache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/surgecache/codec"
	"github.com/unkn0wn-root/surgecache/internal/wire"
	"github.com/unkn0wn-root/surgecache/local"
	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/shared"
	"github.com/unkn0wn-root/surgecache/stats"
	"golang.org/x/sync/singleflight"
)

type cache[V any] struct {
	ns         string
	shared     shared.Store
	codec      c.Codec[V]
	loc        *local.Cache
	lock       Locker
	log        logging.Logger
	ttl        time.Duration
	nullTTL    time.Duration
	lockWait   time.Duration
	lockLease  time.Duration
	retryDelay time.Duration
	disabled   bool

	group    singleflight.Group
	counters stats.Counters
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Namespace == "" {
		return nil, errNoNamespace
	}
	if opts.Shared == nil {
		return nil, errNoShared
	}
	if opts.Codec == nil {
		return nil, errNoCodec
	}
	return &cache[V]{
		ns:         opts.Namespace,
		shared:     opts.Shared,
		codec:      opts.Codec,
		loc:        opts.Local,
		lock:       opts.Lock,
		log:        logging.OrNop(opts.Logger),
		ttl:        coalesce(opts.DefaultTTL, 10*time.Minute),
		nullTTL:    coalesce(opts.NullTTL, time.Minute),
		lockWait:   coalesce(opts.LockWait, 3*time.Second),
		lockLease:  coalesce(opts.LockLease, 30*time.Second),
		retryDelay: coalesce(opts.MissRetryDelay, 50*time.Millisecond),
		disabled:   opts.Disabled,
	}, nil
}

func (c *cache[V]) Enabled() bool { return !c.disabled }

func (c *cache[V]) key(k string) string { return c.ns + ":" + k }

// lookup states for a framed entry.
type entryState int

const (
	entryMiss entryState = iota
	entryHit
	entryNull
)

// lookup reads the tiers in order and returns the decoded payload state.
// Corrupt frames are deleted where found and degrade to misses; shared-tier
// read errors are logged and degrade to misses.
func (c *cache[V]) lookup(ctx context.Context, nk string) ([]byte, entryState) {
	if c.loc != nil {
		if raw, ok := c.loc.Get(nk); ok {
			payload, isNull, err := wire.Decode(raw)
			if err == nil {
				if isNull {
					return nil, entryNull
				}
				return payload, entryHit
			}
			c.loc.Del(nk)
			c.log.Warn("corrupt local entry healed", logging.Fields{"key": nk})
		}
	}

	raw, found, err := c.shared.Get(ctx, nk)
	if err != nil {
		c.log.Warn("shared read degraded to miss", logging.Fields{"key": nk, "err": err})
		return nil, entryMiss
	}
	if !found {
		return nil, entryMiss
	}
	payload, isNull, err := wire.Decode(raw)
	if err != nil {
		if _, derr := c.shared.Del(ctx, nk); derr != nil {
			c.log.Warn("corrupt shared entry not removed", logging.Fields{"key": nk, "err": derr})
		} else {
			c.log.Warn("corrupt shared entry healed", logging.Fields{"key": nk})
		}
		return nil, entryMiss
	}
	if c.loc != nil {
		c.loc.Set(nk, raw)
	}
	if isNull {
		return nil, entryNull
	}
	return payload, entryHit
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if c.disabled {
		return zero, false, nil
	}
	payload, state := c.lookup(ctx, c.key(key))
	switch state {
	case entryHit:
		v, err := c.codec.Decode(payload)
		if err != nil {
			// Decodable frame, undecodable payload: the codec and the
			// writer disagree. Heal like corruption.
			nk := c.key(key)
			if c.loc != nil {
				c.loc.Del(nk)
			}
			_, _ = c.shared.Del(ctx, nk)
			c.counters.Miss()
			return zero, false, err
		}
		c.counters.Hit()
		return v, true, nil
	case entryNull:
		c.counters.Hit()
		return zero, false, nil
	default:
		c.counters.Miss()
		return zero, false, nil
	}
}

func (c *cache[V]) Set(ctx context.Context, key string, value V) error {
	return c.SetTTL(ctx, key, value, c.ttl)
}

func (c *cache[V]) SetTTL(ctx context.Context, key string, value V, ttl time.Duration) error {
	if c.disabled {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	framed := wire.EncodeValue(payload)
	nk := c.key(key)
	if err := c.shared.Set(ctx, nk, framed, ttl); err != nil {
		return err
	}
	if c.loc != nil {
		c.loc.Set(nk, framed)
	}
	c.counters.Put()
	return nil
}

// Delete removes the shared-tier entry before the local one: the reverse
// order would let a concurrent read backfill the local tier from the
// still-present shared entry and outlive the delete. Local deletion is
// best-effort and cannot fail, so the returned bool is the shared tier's
// answer.
func (c *cache[V]) Delete(ctx context.Context, key string) (bool, error) {
	if c.disabled {
		return false, nil
	}
	nk := c.key(key)
	removed, err := c.shared.Del(ctx, nk)
	if c.loc != nil {
		c.loc.Del(nk)
	}
	return removed, err
}

func (c *cache[V]) GetMulti(ctx context.Context, keys []string) (map[string]V, []string, error) {
	if c.disabled || len(keys) == 0 {
		return map[string]V{}, append([]string(nil), keys...), nil
	}

	values := make(map[string]V, len(keys))
	var fromShared []string
	nkToKey := make(map[string]string, len(keys))

	for _, k := range keys {
		nk := c.key(k)
		nkToKey[nk] = k
		if c.loc != nil {
			if raw, ok := c.loc.Get(nk); ok {
				payload, isNull, err := wire.Decode(raw)
				if err == nil {
					if !isNull {
						v, derr := c.codec.Decode(payload)
						if derr == nil {
							values[k] = v
							c.counters.Hit()
							continue
						}
					} else {
						c.counters.Hit()
						continue // resolved absent
					}
				}
				c.loc.Del(nk)
			}
		}
		fromShared = append(fromShared, nk)
	}

	var missing []string
	if len(fromShared) > 0 {
		found, err := c.shared.GetMulti(ctx, fromShared)
		if err != nil {
			c.log.Warn("shared bulk read degraded to miss", logging.Fields{"keys": len(fromShared), "err": err})
			found = nil
		}
		for _, nk := range fromShared {
			raw, ok := found[nk]
			if !ok {
				c.counters.Miss()
				missing = append(missing, nkToKey[nk])
				continue
			}
			payload, isNull, derr := wire.Decode(raw)
			if derr != nil {
				_, _ = c.shared.Del(ctx, nk)
				c.counters.Miss()
				missing = append(missing, nkToKey[nk])
				continue
			}
			if c.loc != nil {
				c.loc.Set(nk, raw)
			}
			if isNull {
				c.counters.Hit()
				continue
			}
			v, verr := c.codec.Decode(payload)
			if verr != nil {
				_, _ = c.shared.Del(ctx, nk)
				c.counters.Miss()
				missing = append(missing, nkToKey[nk])
				continue
			}
			values[nkToKey[nk]] = v
			c.counters.Hit()
		}
	}
	return values, missing, nil
}

func (c *cache[V]) SetMulti(ctx context.Context, items map[string]V, ttl time.Duration) error {
	if c.disabled || len(items) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	framed := make(map[string][]byte, len(items))
	for k, v := range items {
		payload, err := c.codec.Encode(v)
		if err != nil {
			return err
		}
		framed[c.key(k)] = wire.EncodeValue(payload)
	}
	if err := c.shared.SetMulti(ctx, framed, ttl); err != nil {
		return err
	}
	if c.loc != nil {
		for nk, raw := range framed {
			c.loc.Set(nk, raw)
		}
	}
	c.counters.Puts(int64(len(items)))
	return nil
}

func (c *cache[V]) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if c.disabled {
		return 0, nil
	}
	nk := c.key(key)
	if c.loc != nil {
		c.loc.Del(nk)
	}
	return c.shared.IncrBy(ctx, nk, delta)
}

func (c *cache[V]) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if c.disabled {
		return 0, nil
	}
	nk := c.key(key)
	if c.loc != nil {
		c.loc.Del(nk)
	}
	return c.shared.DecrBy(ctx, nk, delta)
}

func (c *cache[V]) PurgeByPattern(ctx context.Context, pattern string) (int64, error) {
	if c.disabled {
		return 0, nil
	}
	n, err := c.shared.DelByPattern(ctx, c.ns+":"+pattern)
	if err != nil {
		return n, err
	}
	if n > 0 {
		c.log.Info("shared entries purged", logging.Fields{"pattern": pattern, "removed": n})
	}
	return n, nil
}

func (c *cache[V]) Stats() Stats {
	s := Stats{
		Overall: c.counters.Snapshot(),
		Shared:  c.shared.Stats(),
	}
	if c.loc != nil {
		s.Local = c.loc.Stats()
	}
	return s
}

func (c *cache[V]) ResetStats() {
	c.counters.Reset()
	c.shared.ResetStats()
	if c.loc != nil {
		c.loc.ResetStats()
	}
}

// Close shuts the local tier down. The shared store is not closed: it is
// commonly shared with the lock service and other caches, so its lifecycle
// belongs to the caller.
func (c *cache[V]) Close(context.Context) error {
	if c.loc != nil {
		return c.loc.Close()
	}
	return nil
}
