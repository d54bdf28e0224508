package local

import (
	"context"
	"time"

	bc "github.com/allegro/bigcache/v3"
)

// BigCache is a Store on allegro/bigcache. BigCache has no per-entry TTL;
// its global LifeWindow acts as the write-expiry clock, so configure it to
// the tier's write TTL.
type BigCache struct {
	c *bc.BigCache
}

var _ Store = (*BigCache)(nil)

type BigCacheConfig struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func NewBigCache(cfg BigCacheConfig) (*BigCache, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &BigCache{c: c}, nil
}

func (p *BigCache) Get(key string) ([]byte, bool) {
	b, err := p.c.Get(key)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (p *BigCache) Set(key string, value []byte, _ int64, _ time.Duration) bool {
	return p.c.Set(key, value) == nil
}

func (p *BigCache) Del(key string) {
	_ = p.c.Delete(key)
}

func (p *BigCache) Close() error {
	return p.c.Close()
}
