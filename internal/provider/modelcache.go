package provider

import (
	"sync"
	"time"
)

// ModelCache holds upstream model listings with a bounded TTL. It is an
// explicit injected dependency rather than a package global so it can be
// unit-tested and reset between runs.
type ModelCache struct {
	mu      sync.Mutex
	entries map[string]modelEntry
	ttl     time.Duration
	now     func() time.Time
}

type modelEntry struct {
	payload  []byte
	expireAt time.Time
}

// NewModelCache creates a cache with the given TTL; zero means the
// production default of four hours.
func NewModelCache(ttl time.Duration) *ModelCache {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &ModelCache{
		entries: make(map[string]modelEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached model listing for a provider, or nil when absent
// or stale.
func (c *ModelCache) Get(providerName string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[providerName]
	if !ok {
		return nil
	}
	if c.now().After(entry.expireAt) {
		delete(c.entries, providerName)
		return nil
	}
	return entry.payload
}

// Put stores a model listing for a provider.
func (c *ModelCache) Put(providerName string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[providerName] = modelEntry{
		payload:  payload,
		expireAt: c.now().Add(c.ttl),
	}
}

// Reset drops all entries.
func (c *ModelCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]modelEntry)
}
