package local

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/stats"
)

const defaultHotKeyThreshold = 1000

type accessInfo struct {
	count    int64
	lastSeen time.Time
}

// Cache wraps a Store with the tier policy: entries expire at whichever of
// the write clock (Store TTL) or the access clock (tracked here, checked
// lazily on read) fires first. Per-entry TTLs are not supported — callers
// that request one get the tier's global policy instead; that is a
// documented limitation of this tier, not a bug.
//
// Every get/put records stats. A per-key access counter drives hot-key
// detection: crossing the threshold logs an advisory once per key, with no
// behavioral change.
type Cache struct {
	store     Store
	log       logging.Logger
	writeTTL  time.Duration
	accessTTL time.Duration
	hotAt     int64
	counters  stats.Counters

	mu     sync.Mutex
	access map[string]accessInfo

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

type Config struct {
	Store Store // required
	// WriteTTL is the time-since-write expiry, enforced by the Store.
	WriteTTL time.Duration // 0 => 5m
	// AccessTTL is the time-since-last-access expiry, enforced lazily on Get.
	AccessTTL time.Duration // 0 => 2m
	// HotKeyThreshold is the access count at which a key is flagged hot.
	HotKeyThreshold int64 // 0 => 1000
	// SweepInterval bounds the access-clock map; stale entries are pruned.
	SweepInterval time.Duration // 0 => 1m
	Logger        logging.Logger
}

func New(cfg Config) (*Cache, error) {
	if cfg.Store == nil {
		return nil, errNilStore
	}
	c := &Cache{
		store:     cfg.Store,
		log:       logging.OrNop(cfg.Logger),
		writeTTL:  cfg.WriteTTL,
		accessTTL: cfg.AccessTTL,
		hotAt:     cfg.HotKeyThreshold,
		access:    make(map[string]accessInfo),
	}
	if c.writeTTL <= 0 {
		c.writeTTL = 5 * time.Minute
	}
	if c.accessTTL <= 0 {
		c.accessTTL = 2 * time.Minute
	}
	if c.hotAt <= 0 {
		c.hotAt = defaultHotKeyThreshold
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	c.ticker = time.NewTicker(sweep)
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ticker.C:
				c.sweep()
			case <-c.stopCh:
				return
			}
		}
	}()
	return c, nil
}

func (c *Cache) Get(key string) ([]byte, bool) {
	b, ok := c.store.Get(key)
	if !ok {
		c.counters.Miss()
		return nil, false
	}
	now := time.Now()
	c.mu.Lock()
	info, seen := c.access[key]
	if seen && now.Sub(info.lastSeen) > c.accessTTL {
		delete(c.access, key)
		c.mu.Unlock()
		c.store.Del(key)
		c.counters.Eviction()
		c.counters.Miss()
		return nil, false
	}
	c.touchLocked(key, info, now)
	c.mu.Unlock()
	c.counters.Hit()
	return b, true
}

// Set writes under the tier's global write TTL. There is deliberately no
// per-entry TTL parameter; see the type doc.
func (c *Cache) Set(key string, value []byte) bool {
	ok := c.store.Set(key, value, int64(len(value))+1, c.writeTTL)
	if !ok {
		return false
	}
	c.counters.Put()
	now := time.Now()
	c.mu.Lock()
	c.touchLocked(key, c.access[key], now)
	c.mu.Unlock()
	return true
}

func (c *Cache) Del(key string) {
	c.store.Del(key)
	c.mu.Lock()
	delete(c.access, key)
	c.mu.Unlock()
}

func (c *Cache) Stats() stats.Snapshot { return c.counters.Snapshot() }
func (c *Cache) ResetStats()           { c.counters.Reset() }

func (c *Cache) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stopCh)
		c.ticker.Stop()
		c.wg.Wait()
		err = c.store.Close()
	})
	return err
}

// touchLocked updates the access clock and counter. Callers must hold mu.
func (c *Cache) touchLocked(key string, info accessInfo, now time.Time) {
	info.count++
	info.lastSeen = now
	c.access[key] = info
	if info.count == c.hotAt {
		c.counters.HotKey()
		c.log.Info("hot key detected", logging.Fields{"key": key, "accesses": info.count})
	}
}

// sweep prunes access entries idle past the access TTL so the map stays
// bounded even when the Store evicts silently.
func (c *Cache) sweep() {
	cutoff := time.Now().Add(-c.accessTTL)
	c.mu.Lock()
	for k, info := range c.access {
		if info.lastSeen.Before(cutoff) {
			delete(c.access, k)
		}
	}
	c.mu.Unlock()
}
