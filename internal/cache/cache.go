// Package cache provides the volatile response-body store keyed by the
// canonical request key. Entries expire lazily on access; a zero TTL means
// the entry never expires. An optional capacity bound evicts in FIFO
// insertion order.
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Cache is a thread-safe in-memory store of response bodies with per-entry
// TTL. Bodies are copied on the way in and on the way out so cached data
// is never mutated by callers.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // insertion order, for the optional FIFO bound
	maxEntries int

	// Statistics
	hits      int64
	misses    int64
	evictions int64

	logger *zap.Logger
}

// entry is a single cached body. A zero expiry means no expiry.
type entry struct {
	key       string
	body      []byte
	expiresAt time.Time
	element   *list.Element
}

// Stats holds cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// New creates a cache. maxEntries <= 0 disables the capacity bound.
func New(maxEntries int, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Get returns the cached body for key, or (nil, false) on a miss. An
// expired entry is removed and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if !e.expiresAt.IsZero() && !time.Now().Before(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}

	c.hits++
	body := make([]byte, len(e.body))
	copy(body, e.body)
	return body, true
}

// Set stores body under key. ttl <= 0 stores the entry without expiry.
func (c *Cache) Set(key string, body []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	// FIFO eviction when the optional bound is hit.
	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries && c.order.Len() > 0 {
		oldest := c.order.Front()
		c.removeLocked(oldest.Value.(*entry))
		c.evictions++
	}

	e := &entry{
		key:  key,
		body: make([]byte, len(body)),
	}
	copy(e.body, body)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	e.element = c.order.PushBack(e)
	c.entries[key] = e

	c.logger.Debug("cache write",
		zap.String("key", key),
		zap.Int("size", len(body)),
		zap.Duration("ttl", ttl),
	)
}

// Delete removes a single entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Clear empties the store.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	c.entries = make(map[string]*entry)
	c.order.Init()

	c.logger.Info("cache cleared", zap.Int("count", count))
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

// removeLocked unlinks an entry. Must be called with the lock held.
func (c *Cache) removeLocked(e *entry) {
	if e.element != nil {
		c.order.Remove(e.element)
	}
	delete(c.entries, e.key)
}
