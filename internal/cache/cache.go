// Package cache keeps recently read ciphertext blobs in memory. It only ever holds
// encrypted bytes; plaintext and keys never enter the cache.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Entry represents a cached blob.
type Entry struct {
	Data       []byte
	ExpiresAt  time.Time
	lastAccess time.Time
}

// IsExpired checks if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Cache is an interface for caching blobs by namespace and id.
type Cache interface {
	// Get retrieves a copy of a cached blob.
	Get(ctx context.Context, namespace, id string) ([]byte, bool)

	// Set stores a copy of a blob. A zero ttl uses the default TTL.
	Set(ctx context.Context, namespace, id string, data []byte, ttl time.Duration) error

	// Delete removes a blob from the cache.
	Delete(ctx context.Context, namespace, id string) error

	// Clear clears all cached blobs.
	Clear(ctx context.Context) error

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache statistics.
type Stats struct {
	Size      int64
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
}

// memoryCache is an in-memory implementation of Cache with least-recently-used eviction.
type memoryCache struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	size     int64
	maxSize  int64
	maxItems int
	stats    Stats
	ttl      time.Duration
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache(maxSize int64, maxItems int, defaultTTL time.Duration) Cache {
	return &memoryCache{
		entries:  make(map[string]*Entry),
		maxSize:  maxSize,
		maxItems: maxItems,
		ttl:      defaultTTL,
	}
}

func cacheKey(namespace, id string) string {
	return fmt.Sprintf("%s:%s", namespace, id)
}

// Get retrieves a cached blob.
func (c *memoryCache) Get(ctx context.Context, namespace, id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := cacheKey(namespace, id)
	entry, ok := c.entries[keyStr]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	if entry.IsExpired() {
		c.removeLocked(keyStr)
		c.stats.Evictions++
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	entry.lastAccess = time.Now()
	return append([]byte(nil), entry.Data...), true
}

// Set stores a blob in the cache.
func (c *memoryCache) Set(ctx context.Context, namespace, id string, data []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	entrySize := int64(len(data))
	if entrySize > c.maxSize {
		return fmt.Errorf("blob of %d bytes exceeds cache capacity %d", entrySize, c.maxSize)
	}

	now := time.Now()
	entry := &Entry{
		Data:       append([]byte(nil), data...),
		ExpiresAt:  now.Add(ttl),
		lastAccess: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := cacheKey(namespace, id)
	c.removeLocked(keyStr)

	c.evictExpiredLocked()
	for c.size+entrySize > c.maxSize || len(c.entries) >= c.maxItems {
		if !c.evictOldestLocked() {
			return fmt.Errorf("cache full and unable to evict")
		}
	}

	c.entries[keyStr] = entry
	c.size += entrySize

	return nil
}

// Delete removes a blob from the cache.
func (c *memoryCache) Delete(ctx context.Context, namespace, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(cacheKey(namespace, id))
	return nil
}

// Clear clears all cached blobs.
func (c *memoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.size = 0
	c.stats = Stats{}

	return nil
}

// Stats returns cache statistics.
func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	stats.Items = len(c.entries)

	return stats
}

// removeLocked must be called with lock held.
func (c *memoryCache) removeLocked(key string) {
	if entry, ok := c.entries[key]; ok {
		c.size -= int64(len(entry.Data))
		delete(c.entries, key)
	}
}

// evictExpiredLocked removes expired entries (must be called with lock held).
func (c *memoryCache) evictExpiredLocked() {
	for key, entry := range c.entries {
		if entry.IsExpired() {
			c.removeLocked(key)
			c.stats.Evictions++
		}
	}
}

// evictOldestLocked removes the least recently used entry (must be called with lock held).
func (c *memoryCache) evictOldestLocked() bool {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = entry.lastAccess
		}
	}
	if oldestKey == "" {
		return false
	}
	c.removeLocked(oldestKey)
	c.stats.Evictions++
	return true
}
