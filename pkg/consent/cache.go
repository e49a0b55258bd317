package consent

import "sync"

// lockedCache is a small mutex-guarded map with a hard capacity. Eviction is
// oldest-first by insertion; correctness never depends on a hit, so a cheap
// policy beats an LRU here.
type lockedCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[cacheKey]cacheEntry
	order    []cacheKey
}

func newLockedCache(capacity int) *lockedCache {
	if capacity < 1 {
		capacity = 1
	}
	return &lockedCache{
		capacity: capacity,
		entries:  make(map[cacheKey]cacheEntry, capacity),
	}
}

func (c *lockedCache) get(key cacheKey) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *lockedCache) put(key cacheKey, entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry

	for len(c.entries) > c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// invalidate drops every line belonging to the org.
func (c *lockedCache) invalidate(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, key := range c.order {
		if key.orgID == orgID {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}
