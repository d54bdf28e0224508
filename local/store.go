// Package local implements the process-local cache tier: a bounded byte
// store with a global dual-expiry policy (time-since-write and
// time-since-last-access), hit/miss/eviction counters and hot-key detection.
//
// The local tier is private to one process and never a source of truth; it
// cannot perform cross-process-consistent arithmetic, so counters always
// live in the shared tier.
package local

import "time"

// Store is a minimal bounded byte store. Must be safe for concurrent use and
// byte-for-byte transparent: Get returns exactly the []byte previously
// passed to Set for the same key.
type Store interface {
	// Get returns (value, true) on hit; (nil, false) on miss.
	Get(key string) ([]byte, bool)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns false when the store rejected the write under pressure.
	Set(key string, value []byte, cost int64, ttl time.Duration) bool

	// Del removes a key (best-effort).
	Del(key string)

	// Close releases resources.
	Close() error
}
