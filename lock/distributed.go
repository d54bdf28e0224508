// Package lock provides the two mutual-exclusion primitives of the core:
// a cross-process lease lock built on the shared tier's atomic primitives,
// and an in-process segment lock manager for per-id critical sections.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/surgecache/logging"
	"github.com/unkn0wn-root/surgecache/shared"
)

const (
	defaultWait  = 3 * time.Second
	defaultLease = 30 * time.Second
	defaultRetry = 20 * time.Millisecond
)

type holder struct {
	count    int
	leaseExp time.Time
}

// Distributed is a cross-process lock service with timed acquisition, lease,
// renewal and forced release. Acquisition is FIFO: waiters enqueue a token
// on a shared-tier queue and only the head of the queue may take the lease,
// so grants follow arrival order under sustained contention.
//
// Every lock carries a lease; if the holder crashes or never renews, the
// lease expiry bounds how long the key stays locked. This service is
// reserved for reload-style critical sections (cache breakdown protection) —
// the hot stock-decrement path uses the shared tier's scripted arithmetic,
// which is already race-free and strictly cheaper.
//
// The holder identity is the service instance, not the calling goroutine:
// any goroutine of the process may reenter (and must eventually Unlock) a
// key this instance holds. Callers needing per-goroutine exclusion within
// one process should serialize around the lock themselves (the cache's
// guarded load does this with singleflight) or use SegmentManager.
type Distributed struct {
	store  shared.Store
	log    logging.Logger
	owner  string
	prefix string
	retry  time.Duration

	mu   sync.Mutex
	held map[string]*holder
	seq  atomic.Uint64
}

type Config struct {
	Store shared.Store // required
	// Prefix namespaces lock keys; defaults to "lock".
	Prefix string
	// RetryInterval is the poll interval while waiting; defaults to 20ms.
	RetryInterval time.Duration
	Logger        logging.Logger
}

func NewDistributed(cfg Config) (*Distributed, error) {
	if cfg.Store == nil {
		return nil, errNilStore
	}
	host, _ := os.Hostname()
	var rnd [4]byte
	_, _ = rand.Read(rnd[:])
	d := &Distributed{
		store:  cfg.Store,
		log:    logging.OrNop(cfg.Logger),
		owner:  host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd[:]),
		prefix: cfg.Prefix,
		retry:  cfg.RetryInterval,
		held:   make(map[string]*holder),
	}
	if d.prefix == "" {
		d.prefix = "lock"
	}
	if d.retry <= 0 {
		d.retry = defaultRetry
	}
	return d, nil
}

func (d *Distributed) lockKey(key string) string  { return d.prefix + ":" + key }
func (d *Distributed) queueKey(key string) string { return d.prefix + ":" + key + ":q" }

// TryLock attempts to acquire key, waiting up to wait for the current holder
// (and any earlier waiters) to clear. Zero wait/lease fall back to 3s/30s.
// Reentrant for this instance: a repeated TryLock on a held key — from any
// goroutine — increments the reentrancy count and returns immediately.
//
// Returns false on timeout or context cancellation — both are non-fatal,
// retryable outcomes, never errors. The error return carries shared-tier
// failures only.
func (d *Distributed) TryLock(ctx context.Context, key string, wait, lease time.Duration) (bool, error) {
	if wait <= 0 {
		wait = defaultWait
	}
	if lease <= 0 {
		lease = defaultLease
	}

	now := time.Now()
	d.mu.Lock()
	if h, ok := d.held[key]; ok && now.Before(h.leaseExp) {
		h.count++
		d.mu.Unlock()
		return true, nil
	}
	delete(d.held, key) // lease lapsed; start over
	d.mu.Unlock()

	token := d.owner + ":" + strconv.FormatUint(d.seq.Add(1), 10)
	qk := d.queueKey(key)
	lk := d.lockKey(key)

	if err := d.store.QueuePush(ctx, qk, token, wait+lease); err != nil {
		return false, err
	}

	deadline := now.Add(wait)
	for {
		head, err := d.store.QueuePeek(ctx, qk)
		if err != nil {
			_ = d.store.QueueRemove(context.WithoutCancel(ctx), qk, token)
			return false, err
		}
		// An empty head means the queue key expired; we are effectively first.
		if head == token || head == "" {
			ok, err := d.store.SetIfAbsent(ctx, lk, []byte(d.owner), lease)
			if err != nil {
				_ = d.store.QueueRemove(context.WithoutCancel(ctx), qk, token)
				return false, err
			}
			if ok {
				_ = d.store.QueueRemove(ctx, qk, token)
				d.mu.Lock()
				d.held[key] = &holder{count: 1, leaseExp: time.Now().Add(lease)}
				d.mu.Unlock()
				d.log.Debug("lock acquired", logging.Fields{"key": key, "lease": lease})
				return true, nil
			}
		}
		if time.Now().After(deadline) {
			_ = d.store.QueueRemove(context.WithoutCancel(ctx), qk, token)
			return false, nil
		}
		select {
		case <-ctx.Done():
			// Interrupted waits resolve like timeouts: boolean, not error.
			_ = d.store.QueueRemove(context.WithoutCancel(ctx), qk, token)
			return false, nil
		case <-time.After(d.retry):
		}
	}
}

// Unlock releases one level of the reentrant hold; the shared-tier entry is
// removed when the count reaches zero. Calling Unlock without holding the
// lock is a logged no-op.
func (d *Distributed) Unlock(ctx context.Context, key string) error {
	d.mu.Lock()
	h, ok := d.held[key]
	if !ok {
		d.mu.Unlock()
		d.log.Warn("unlock without holding", logging.Fields{"key": key})
		return nil
	}
	h.count--
	if h.count > 0 {
		d.mu.Unlock()
		return nil
	}
	delete(d.held, key)
	d.mu.Unlock()

	released, err := d.store.CompareAndDel(ctx, d.lockKey(key), []byte(d.owner))
	if err != nil {
		return err
	}
	if !released {
		// Lease expired and someone else may hold it now; nothing to undo.
		d.log.Warn("lock lease lapsed before unlock", logging.Fields{"key": key})
	}
	return nil
}

// ForceUnlock removes the lock regardless of holder. Administrative escape
// hatch; returns whether an entry was actually removed.
func (d *Distributed) ForceUnlock(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	delete(d.held, key)
	d.mu.Unlock()
	ok, err := d.store.Del(ctx, d.lockKey(key))
	if ok {
		d.log.Debug("lock force released", logging.Fields{"key": key})
	}
	return ok, err
}

// IsLocked reports whether any process currently holds key.
func (d *Distributed) IsLocked(ctx context.Context, key string) (bool, error) {
	_, ok, err := d.store.Get(ctx, d.lockKey(key))
	return ok, err
}

// RemainingLease returns the holder's remaining lease, 0 when unlocked.
func (d *Distributed) RemainingLease(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := d.store.TTL(ctx, d.lockKey(key))
	if err != nil {
		return 0, err
	}
	if ttl == shared.NoExpiry {
		return 0, nil // lock entries always carry a lease; treat as unlocked leftovers
	}
	return ttl, nil
}

// Renew extends the lease. Succeeds only while this service still holds the
// lock (value-guarded on the shared tier).
func (d *Distributed) Renew(ctx context.Context, key string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		lease = defaultLease
	}
	d.mu.Lock()
	h, ok := d.held[key]
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	renewed, err := d.store.CompareAndExpire(ctx, d.lockKey(key), []byte(d.owner), lease)
	if err != nil || !renewed {
		return false, err
	}
	d.mu.Lock()
	if cur, still := d.held[key]; still && cur == h {
		cur.leaseExp = time.Now().Add(lease)
	}
	d.mu.Unlock()
	return true, nil
}

// Stats reports locks currently held by this process: Held is the number of
// distinct keys, Reentrant the sum of reentrancy counts above one.
type Stats struct {
	Held      int
	Reentrant int
}

func (d *Distributed) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Stats{Held: len(d.held)}
	for _, h := range d.held {
		if h.count > 1 {
			s.Reentrant += h.count - 1
		}
	}
	return s
}

// Owner exposes the holder identity written to the shared tier.
func (d *Distributed) Owner() string { return d.owner }
