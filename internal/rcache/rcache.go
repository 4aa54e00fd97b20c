// Package rcache is a process-local TTL cache for response payloads.
//
// Entries expire lazily: a stale entry is evicted by the Get or Has call
// that observes it, so the two never disagree about a key. An optional
// sweeper (RunSweeper) reclaims stale keys that are never read again.
// The cache is volatile and holds one shared map per instance; construct
// one at process start and inject it, it is not a package singleton.
package rcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrInvalidTTL is returned for a zero or negative TTL.
var ErrInvalidTTL = errors.New("ttl must be positive")

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// entry is owned exclusively by the cache: replaced wholesale on Put,
// never patched in place.
type entry struct {
	payload  any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) fresh(now time.Time) bool {
	return now.Sub(e.storedAt) <= e.ttl
}

// Cache maps request-derived keys to payloads with a per-entry TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   Clock
}

// New creates an empty cache.
func New() *Cache {
	return NewWithClock(realClock{})
}

// NewWithClock creates a cache with a custom clock (for testing).
func NewWithClock(clock Clock) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Put stores payload under key, overwriting any existing entry.
func (c *Cache) Put(key string, payload any, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{payload: payload, storedAt: c.clock.Now(), ttl: ttl}
	return nil
}

// Get returns the payload for key if a fresh entry exists. A stale entry is
// evicted on the way out.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.fresh(c.clock.Now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.payload, true
}

// Has reports whether a fresh entry exists for key, evicting a stale one
// exactly as Get would.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if !e.fresh(c.clock.Now()) {
		delete(c.entries, key)
		return false
	}
	return true
}

// Invalidate removes the entry for key, if any.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateByPrefix removes every entry whose key starts with prefix.
// Used when a caller knows the underlying data for a key family changed.
func (c *Cache) InvalidateByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of entries currently held, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes all stale entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	dropped := 0
	for key, e := range c.entries {
		if !e.fresh(now) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// RunSweeper sweeps stale entries every interval until ctx is cancelled.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Through is the read-through helper: it returns the cached payload for key
// when fresh (servedFromCache true, fetch never invoked), and otherwise runs
// fetch, caches a successful result under ttl, and returns it. A fetch
// failure is returned as-is and never cached, so the next call retries the
// source. Concurrent cold reads of one key are not coalesced; both fetch and
// the last Put wins, which is accepted in exchange for simplicity.
func Through[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if ttl <= 0 {
		return zero, false, ErrInvalidTTL
	}

	if v, ok := c.Get(key); ok {
		if payload, ok := v.(T); ok {
			return payload, true, nil
		}
		// Key collision across payload types; treat as a miss.
		c.Invalidate(key)
	}

	payload, err := fetch(ctx)
	if err != nil {
		return zero, false, err
	}
	if err := c.Put(key, payload, ttl); err != nil {
		return zero, false, err
	}
	return payload, false, nil
}
