package shared

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/stats"
)

var ErrNilClient = errors.New("shared: nil redis client")

// Redis implements Store on a go-redis UniversalClient. Script execution is
// guarded by a circuit breaker; when the scripted path is unavailable,
// increment/decrement degrade to the plain non-scripted INCRBY (weaker
// initialize-on-absent guarantee) and the degradation is logged.
type Redis struct {
	rdb         goredis.UniversalClient
	log         logging.Logger
	breaker     *gobreaker.CircuitBreaker
	counters    stats.Counters
	closeClient bool
}

var _ Store = (*Redis)(nil)

type RedisConfig struct {
	Client goredis.UniversalClient
	Logger logging.Logger
	// CloseClient releases the client on Close. Set only when this store
	// exclusively owns the client.
	CloseClient bool
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	r := &Redis{
		rdb:         cfg.Client,
		log:         logging.OrNop(cfg.Logger),
		closeClient: cfg.CloseClient,
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "surgecache-scripts",
		Interval: 10 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 5 && float64(c.TotalFailures)/float64(c.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("script breaker state change", logging.Fields{"from": from.String(), "to": to.String()})
		},
	})
	return r, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		r.counters.Miss()
		return nil, false, nil
	}
	if err != nil {
		r.counters.Miss()
		return nil, false, err
	}
	r.counters.Hit()
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // non-positive means no expiry
	}
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return err
	}
	r.counters.Put()
	return nil
}

func (r *Redis) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := r.runScript(ctx, setIfAbsentScript, []string{key}, value, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	if res == 1 {
		r.counters.Put()
		return true, nil
	}
	return false, nil
}

func (r *Redis) Del(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DelByPattern scans the keyspace in batches; never uses KEYS, which blocks
// the server on large keyspaces.
func (r *Redis) DelByPattern(ctx context.Context, pattern string) (int64, error) {
	var removed int64
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := r.rdb.Del(ctx, keys...).Result()
			removed += n
			if err != nil {
				return removed, err
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (r *Redis) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if i >= len(keys) {
			break
		}
		switch vv := v.(type) {
		case nil:
			r.counters.Miss()
		case string:
			r.counters.Hit()
			out[keys[i]] = []byte(vv)
		case []byte:
			r.counters.Hit()
			out[keys[i]] = vv
		}
	}
	return out, nil
}

func (r *Redis) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	if ttl < 0 {
		ttl = 0
	}
	_, err := r.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for k, v := range items {
			p.Set(ctx, k, v, ttl)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.counters.Puts(int64(len(items)))
	return nil
}

func (r *Redis) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	res, err := r.runScript(ctx, incrementByScript, []string{key}, delta)
	if err == nil {
		return res, nil
	}
	// Degraded path: plain INCRBY treats an absent key as zero. Weaker than
	// the scripted initialize-to-delta contract but still atomic.
	r.log.Warn("scripted increment unavailable, falling back to INCRBY",
		logging.Fields{"key": key, "err": err})
	return r.rdb.IncrBy(ctx, key, delta).Result()
}

func (r *Redis) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return r.IncrBy(ctx, key, -delta)
}

func (r *Redis) DeductStock(ctx context.Context, stockKey string, qty int64) (int64, error) {
	return r.runScript(ctx, deductStockScript, []string{stockKey}, qty)
}

func (r *Redis) CheckAndDeduct(ctx context.Context, stockKey, limitKey string, userID, activityID, qty, limitPerUser int64) (int64, error) {
	return r.runScript(ctx, checkAndDeductScript,
		[]string{stockKey, limitKey},
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(activityID, 10),
		qty,
		limitPerUser,
	)
}

func (r *Redis) CompareAndDel(ctx context.Context, key string, expect []byte) (bool, error) {
	res, err := r.runScript(ctx, compareAndDelScript, []string{key}, expect)
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *Redis) CompareAndExpire(ctx context.Context, key string, expect []byte, ttl time.Duration) (bool, error) {
	res, err := r.runScript(ctx, compareAndExpireScript, []string{key}, expect, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return normalizePTTL(d), nil
}

// normalizePTTL maps go-redis PTTL replies onto the Store contract. The
// server's special replies (-2 absent, -1 no expiry) come back as raw
// durations of -2ns/-1ns, unscaled by the command's precision.
func normalizePTTL(d time.Duration) time.Duration {
	switch d {
	case time.Duration(-2): // key absent
		return 0
	case time.Duration(-1): // no expiry
		return NoExpiry
	}
	if d < 0 {
		return 0
	}
	return d
}

func (r *Redis) QueuePush(ctx context.Context, key, token string, ttl time.Duration) error {
	_, err := r.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.RPush(ctx, key, token)
		if ttl > 0 {
			p.PExpire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (r *Redis) QueuePeek(ctx context.Context, key string) (string, error) {
	head, err := r.rdb.LIndex(ctx, key, 0).Result()
	if err == goredis.Nil {
		return "", nil
	}
	return head, err
}

func (r *Redis) QueueRemove(ctx context.Context, key, token string) error {
	return r.rdb.LRem(ctx, key, 1, token).Err()
}

func (r *Redis) SetBits(ctx context.Context, key string, offsets []uint64) error {
	if len(offsets) == 0 {
		return nil
	}
	_, err := r.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, off := range offsets {
			p.SetBit(ctx, key, int64(off), 1)
		}
		return nil
	})
	return err
}

func (r *Redis) GetBits(ctx context.Context, key string, offsets []uint64) ([]bool, error) {
	if len(offsets) == 0 {
		return nil, nil
	}
	cmds := make([]*goredis.IntCmd, len(offsets))
	_, err := r.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, off := range offsets {
			cmds[i] = p.GetBit(ctx, key, int64(off))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(offsets))
	for i, cmd := range cmds {
		out[i] = cmd.Val() == 1
	}
	return out, nil
}

func (r *Redis) Stats() stats.Snapshot { return r.counters.Snapshot() }
func (r *Redis) ResetStats()           { r.counters.Reset() }

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (r *Redis) Close(context.Context) error {
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (r *Redis) runScript(ctx context.Context, s *goredis.Script, keys []string, args ...any) (int64, error) {
	res, err := r.breaker.Execute(func() (any, error) {
		return s.Run(ctx, r.rdb, keys, args...).Int64()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}
