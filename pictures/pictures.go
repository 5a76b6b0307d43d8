// Package pictures is the durable profile-picture cache behind the
// leaderboard: once a non-empty URL has been seen for a user it must never
// regress to empty across refresh cycles.
package pictures

import "sync"

// Cache maps user IDs to the last non-empty profile picture URL seen.
// Put ignores empty URLs, so cached values never regress.
type Cache interface {
	Get(userID string) (string, bool)
	Put(userID, url string)
}

// MemoryCache is the default in-process Cache.
type MemoryCache struct {
	mu   sync.RWMutex
	urls map[string]string
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{urls: map[string]string{}}
}

func (c *MemoryCache) Get(userID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.urls[userID]
	return url, ok
}

func (c *MemoryCache) Put(userID, url string) {
	if userID == "" || url == "" {
		return
	}
	c.mu.Lock()
	c.urls[userID] = url
	c.mu.Unlock()
}
