// Package statscache holds precomputed dashboard statistics so API reads
// never touch the database on the hot path. A background task refreshes the
// entries; readers get the last good value until the TTL lapses.
package statscache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is how long a cached entry stays servable without a refresh.
const DefaultTTL = 5 * time.Minute

type entry struct {
	value     any
	refreshed time.Time
}

// Cache is a TTL map for named stat blobs.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// Get returns the cached value and whether it is still fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock().Sub(e.refreshed) > c.ttl {
		return nil, false
	}
	return e.value, true
}

// Set stores a value with the current time as its refresh stamp.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, refreshed: c.clock()}
}

// Age reports how long ago a key was refreshed. Zero if never set.
func (c *Cache) Age(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return 0
	}
	return c.clock().Sub(e.refreshed)
}

// Source computes one named stat blob.
type Source struct {
	Key     string
	Compute func(ctx context.Context) (any, error)
}

// Refresher recomputes every source into the cache. One failing source does
// not block the others.
type Refresher struct {
	cache   *Cache
	sources []Source
	log     zerolog.Logger
}

func NewRefresher(cache *Cache, log zerolog.Logger, sources ...Source) *Refresher {
	return &Refresher{
		cache:   cache,
		sources: sources,
		log:     log.With().Str("component", "statscache").Logger(),
	}
}

// Refresh runs all sources sequentially, keeping stale values for any that
// fail. Returns the last error encountered, if any.
func (r *Refresher) Refresh(ctx context.Context) error {
	var lastErr error
	for _, src := range r.sources {
		value, err := src.Compute(ctx)
		if err != nil {
			r.log.Warn().Str("key", src.Key).Err(err).Msg("stat refresh failed, keeping stale value")
			lastErr = err
			continue
		}
		r.cache.Set(src.Key, value)
	}
	return lastErr
}
