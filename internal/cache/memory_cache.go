package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryFlagCache is an in-process FlagCache used in tests and single-node
// deployments without Redis.
type MemoryFlagCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     bool
	expiresAt time.Time
}

func NewMemoryFlagCache() *MemoryFlagCache {
	return &MemoryFlagCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryFlagCache) Get(_ context.Context, key string) (bool, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryFlagCache) Set(_ context.Context, key string, value bool, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryFlagCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}
