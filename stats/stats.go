// Package stats holds the per-tier cache counters. Each tier owns one
// Counters value; composed tiers report the sum of their snapshots.
package stats

import "sync/atomic"

// Counters is a set of monotonically increasing cache statistics.
// All methods are safe for concurrent use. The zero value is ready.
type Counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	puts      atomic.Int64
	evictions atomic.Int64
	loadTime  atomic.Int64 // nanoseconds spent in loaders, attributed to hits
	hotKeys   atomic.Int64
}

func (c *Counters) Hit()                 { c.hits.Add(1) }
func (c *Counters) Miss()                { c.misses.Add(1) }
func (c *Counters) Put()                 { c.puts.Add(1) }
func (c *Counters) Puts(n int64)         { c.puts.Add(n) }
func (c *Counters) Eviction()            { c.evictions.Add(1) }
func (c *Counters) AddLoadTime(ns int64) { c.loadTime.Add(ns) }
func (c *Counters) HotKey()              { c.hotKeys.Add(1) }

// Snapshot returns a point-in-time copy of the counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Puts:          c.puts.Load(),
		Evictions:     c.evictions.Load(),
		TotalLoadTime: c.loadTime.Load(),
		HotKeyCount:   c.hotKeys.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.puts.Store(0)
	c.evictions.Store(0)
	c.loadTime.Store(0)
	c.hotKeys.Store(0)
}

// Snapshot is an immutable view of tier statistics.
type Snapshot struct {
	Hits          int64
	Misses        int64
	Puts          int64
	Evictions     int64
	TotalLoadTime int64 // ns
	HotKeyCount   int64
}

// Add returns the element-wise sum of two snapshots. Used when a multi-tier
// cache reports combined stats.
func (s Snapshot) Add(o Snapshot) Snapshot {
	return Snapshot{
		Hits:          s.Hits + o.Hits,
		Misses:        s.Misses + o.Misses,
		Puts:          s.Puts + o.Puts,
		Evictions:     s.Evictions + o.Evictions,
		TotalLoadTime: s.TotalLoadTime + o.TotalLoadTime,
		HotKeyCount:   s.HotKeyCount + o.HotKeyCount,
	}
}

// HitRate is hits/(hits+misses); 0 when no lookups happened.
func (s Snapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// AvgLoadPenalty is TotalLoadTime/Hits in ns; 0 when there were no hits.
func (s Snapshot) AvgLoadPenalty() float64 {
	if s.Hits == 0 {
		return 0
	}
	return float64(s.TotalLoadTime) / float64(s.Hits)
}
