// Package cache memoizes classification results by request key with a TTL,
// a capacity bound and per-key single-flight deduplication.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/imgclassify/internal/metrics"
	"github.com/onnwee/imgclassify/internal/models"
)

// ComputeFunc produces the result for a key on a cache miss. It must not panic.
type ComputeFunc func(ctx context.Context) models.Result

// Stats represents cache statistics.
type Stats struct {
	Hits      uint64 `json:"hits"`      // lookups served from a live entry
	Misses    uint64 `json:"misses"`    // lookups that found nothing live
	Expired   uint64 `json:"expired"`   // misses caused by an entry past its TTL
	Computes  uint64 `json:"computes"`  // compute invocations
	Shared    uint64 `json:"shared"`    // callers that joined another caller's flight
	Evictions uint64 `json:"evictions"` // capacity evictions reported by the store
	Items     int    `json:"items"`     // current number of stored entries
}

// ResultCache is a TTL-bounded memo of key → models.Result. Failed results are
// cached like successes.
type ResultCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	hits     atomic.Uint64
	misses   atomic.Uint64
	expired  atomic.Uint64
	computes atomic.Uint64
	shared   atomic.Uint64
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithClock overrides the time source used for insertion stamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// New wraps store with TTL expiry and single-flight computation.
func New(store Store, ttl time.Duration, opts ...Option) *ResultCache {
	c := &ResultCache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type flightResult struct {
	value models.Result
	hit   bool
}

// GetOrCompute returns the live entry for key, or runs compute once and
// stores its result. Concurrent callers for the same key wait for the one
// in-flight computation instead of starting their own. The boolean is true
// when the value came from a stored entry.
//
// If ctx ends while waiting, GetOrCompute returns a failure; the in-flight
// computation still completes and its result is stored.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (models.Result, bool) {
	if r, ok := c.lookup(key); ok {
		return r, true
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// A flight for this key may have finished between our lookup and now.
		if e, ok := c.store.Get(key); ok && !c.isExpired(e) {
			return flightResult{value: e.Value, hit: true}, nil
		}
		c.computes.Add(1)
		r := compute(ctx)
		c.store.Set(key, Entry{Value: r, InsertedAt: c.now()})
		return flightResult{value: r}, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
			metrics.ResultCacheSharedFlights.Inc()
		}
		fr := res.Val.(flightResult)
		return fr.value, fr.hit
	case <-ctx.Done():
		return models.Failure(), false
	}
}

// Peek returns the live entry for key without computing or touching stats.
func (c *ResultCache) Peek(key string) (Entry, bool) {
	e, ok := c.store.Get(key)
	if !ok || c.isExpired(e) {
		return Entry{}, false
	}
	return e, true
}

// Delete drops key from the cache.
func (c *ResultCache) Delete(key string) {
	c.store.Delete(key)
}

// Purge drops every entry.
func (c *ResultCache) Purge() {
	c.store.Clear()
}

// Len returns the number of stored entries, expired ones included until they
// are looked up.
func (c *ResultCache) Len() int {
	return c.store.Len()
}

// Evictions returns the store's capacity eviction count.
func (c *ResultCache) Evictions() uint64 {
	return c.store.Evictions()
}

// Stats returns a snapshot of cache statistics.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Expired:   c.expired.Load(),
		Computes:  c.computes.Load(),
		Shared:    c.shared.Load(),
		Evictions: c.store.Evictions(),
		Items:     c.store.Len(),
	}
}

// Close releases the underlying store.
func (c *ResultCache) Close() {
	c.store.Close()
}

// lookup returns a live value. Expired entries are left in place for the next
// computation to overwrite.
func (c *ResultCache) lookup(key string) (models.Result, bool) {
	e, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		metrics.ResultCacheLookups.WithLabelValues("miss").Inc()
		return models.Result{}, false
	}
	if c.isExpired(e) {
		c.misses.Add(1)
		c.expired.Add(1)
		metrics.ResultCacheLookups.WithLabelValues("expired").Inc()
		return models.Result{}, false
	}
	c.hits.Add(1)
	metrics.ResultCacheLookups.WithLabelValues("hit").Inc()
	return e.Value, true
}

// isExpired treats an entry as absent once ttl has fully elapsed.
func (c *ResultCache) isExpired(e Entry) bool {
	return !c.now().Before(e.InsertedAt.Add(c.ttl))
}
