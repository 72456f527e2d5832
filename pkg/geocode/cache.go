package geocode

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheEntries is the default Cache bound.
const DefaultCacheEntries = 512

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache memoizes terminal Results by AddressKey for a single run. It is a
// bounded LRU; maxEntries <= 0 makes it unbounded. Concurrent lookups of the
// same key share a single compute call.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	items      map[AddressKey]*list.Element
	stats      CacheStats

	group singleflight.Group
}

type cacheEntry struct {
	key    AddressKey
	result Result
}

// NewCache creates an empty Cache holding at most maxEntries results.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[AddressKey]*list.Element),
	}
}

// Get returns the cached Result for key and marks it recently used.
func (c *Cache) Get(key AddressKey) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Result{}, false
	}
	c.ll.MoveToFront(el)
	c.stats.Hits++
	return el.Value.(*cacheEntry).result, true
}

// GetOrCompute returns the cached Result for key, or runs compute and caches
// its Result when that Result is terminal. Errors from compute are returned
// and never cached. No lock is held while compute runs. Every lookup answered
// without running compute, including callers that joined another caller's
// flight, counts as a hit.
func (c *Cache) GetOrCompute(ctx context.Context, key AddressKey, compute func(ctx context.Context) (Result, error)) (Result, error) {
	if r, ok := c.Get(key); ok {
		return r, nil
	}

	led := false
	v, err, _ := c.group.Do(string(key), func() (any, error) {
		led = true
		// A flight for this key may have finished since the Get above.
		if r, ok := c.peek(key); ok {
			c.count(&c.stats.Hits)
			return r, nil
		}
		c.count(&c.stats.Misses)

		r, err := compute(ctx)
		if err != nil {
			return Result{}, err
		}
		if r.Terminal() {
			c.add(key, r)
		}
		return r, nil
	})
	if err != nil {
		return Result{}, err
	}
	if !led {
		c.count(&c.stats.Hits)
	}
	return v.(Result), nil
}

func (c *Cache) count(n *int64) {
	c.mu.Lock()
	*n++
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.ll.Len()
	return s
}

func (c *Cache) peek(key AddressKey) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Result{}, false
	}
	return el.Value.(*cacheEntry).result, true
}

func (c *Cache) add(key AddressKey, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		// Entries are read-only once created.
		c.ll.MoveToFront(el)
		return
	}

	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, result: r})
	if c.maxEntries > 0 && c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
		c.stats.Evictions++
	}
}
