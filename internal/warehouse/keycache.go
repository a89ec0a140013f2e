package warehouse

import (
	"context"
	"sync"

	"github.com/couchcryptid/quake-warehouse-etl/internal/domain"
	"github.com/couchcryptid/quake-warehouse-etl/internal/observability"
)

// cachedLookup wraps Tx.Lookup with an LRU of resolved surrogate IDs.
// Dimension rows are append-only, so a resolved ID never changes; misses are
// not cached. A cache lives for one stage transaction only.
type cachedLookup struct {
	tx      Tx
	cache   *lruCache
	metrics *observability.Metrics
}

func newCachedLookup(tx Tx, maxEntries int, metrics *observability.Metrics) *cachedLookup {
	c := &cachedLookup{tx: tx, metrics: metrics}
	if maxEntries > 0 {
		c.cache = newLRUCache(maxEntries)
	}
	return c
}

func (c *cachedLookup) Lookup(ctx context.Context, dim Dimension, key domain.NaturalKey) (int64, bool, error) {
	if c.cache == nil {
		return c.tx.Lookup(ctx, dim, key)
	}

	ck := cacheKey{table: dim.Table, key: key}
	if id, ok := c.cache.get(ck); ok {
		c.observe("hit")
		return id, true, nil
	}
	c.observe("miss")

	id, found, err := c.tx.Lookup(ctx, dim, key)
	if err != nil || !found {
		return id, found, err
	}
	c.cache.put(ck, id)
	return id, true, nil
}

func (c *cachedLookup) observe(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.KeyCache.WithLabelValues(result).Inc()
}

type cacheKey struct {
	table string
	key   domain.NaturalKey
}

// lruCache is a simple thread-safe LRU cache of surrogate IDs.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[cacheKey]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   cacheKey
	value int64
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[cacheKey]*entry),
	}
}

func (c *lruCache) get(key cacheKey) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key cacheKey, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
