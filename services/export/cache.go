package export

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// cacheEntry is one cached artifact with its insertion time
type cacheEntry struct {
	key        uuid.UUID
	data       []byte
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// ArtifactCache is an in-memory LRU cache with TTL for published artifacts.
// Artifacts never change once published, so entries are only evicted, never invalidated.
type ArtifactCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewArtifactCache creates a cache holding at most maxSize artifacts for ttl
func NewArtifactCache(maxSize int, ttl time.Duration) *ArtifactCache {
	return &ArtifactCache{
		entries: make(map[uuid.UUID]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the artifact of an export, or nil if absent or expired
func (c *ArtifactCache) Get(exportID uuid.UUID) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[exportID]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(exportID)
		}
		return nil
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.data
}

// Set stores the artifact of an export
func (c *ArtifactCache) Set(exportID uuid.UUID, data []byte) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[exportID]; exists {
		entry.data = data
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{key: exportID, data: data, insertedAt: time.Now()}
	entry.element = c.lruList.PushFront(exportID)
	c.entries[exportID] = entry
}

// Stats returns cache statistics
func (c *ArtifactCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// removeEntry must be called with the lock held
func (c *ArtifactCache) removeEntry(key uuid.UUID) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictLRU must be called with the lock held
func (c *ArtifactCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	c.removeEntry(back.Value.(uuid.UUID))
}

// CleanupExpired removes all expired entries and returns how many were removed
func (c *ArtifactCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			c.removeEntry(key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired entries until stopCh is closed
func (c *ArtifactCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
