// Package surgecache is the caching and concurrency-control core for
// flash-sale style read paths: a process-local tier in front of a shared
// tier, penetration protection through cached-absent sentinels and an
// existence filter, breakdown protection through coalesced and lock-guarded
// loads, and atomic shared-tier counters for inventory.
//
// The shared tier is the source of truth between processes; the local tier
// is a best-effort accelerator that is invalidated, never trusted, on
// writes. Values are framed on the way in (see internal/wire) so foreign or
// truncated bytes self-heal into misses instead of decode errors.
package surgecache
