package credential

import (
	"sync"
	"time"

	"credvault/pkg/logging"
)

// DefaultExpiryBuffer is how close to a sub-record's expiry a cached bundle
// may be served. A sub-record inside the buffer is treated as a miss even if
// technically unexpired, so staleness never silently propagates.
const DefaultExpiryBuffer = 5 * time.Minute

// cacheEntry pairs a bundle with its computed eviction deadline.
type cacheEntry struct {
	bundle    *Bundle
	expiresAt time.Time
}

// Cache is a short-TTL, expiry-aware in-memory cache in front of the
// credential store. Entries never outlive the credential they represent:
// the effective TTL is capped below the earliest sub-record expiry minus the
// buffer, so a stale hit is impossible by construction.
type Cache struct {
	mu      sync.RWMutex
	entries map[Ref]*cacheEntry

	buffer time.Duration
	now    func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

// NewCache creates a cache with the given expiry buffer. A zero buffer uses
// DefaultExpiryBuffer. The clock is injectable so tests can simulate expiry
// without waiting.
func NewCache(buffer time.Duration, now func() time.Time) *Cache {
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	if now == nil {
		now = time.Now
	}
	c := &Cache{
		entries:         make(map[Ref]*cacheEntry),
		buffer:          buffer,
		now:             now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Get returns the cached bundle for the ref, or nil on a miss. A hit
// requires the entry to be unexpired and every populated sub-record to
// remain valid beyond the buffer.
func (c *Cache) Get(ref Ref) *Bundle {
	c.mu.RLock()
	entry, ok := c.entries[ref]
	c.mu.RUnlock()

	if !ok {
		return nil
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		return nil
	}
	for _, sub := range []ScopeTier{TierResourceManager, TierDirectoryGraph} {
		if ts := entry.bundle.TokensFor(sub); ts != nil && ts.ExpiresWithin(now, c.buffer) {
			logging.Debug("Cache", "Entry for client=%s within expiry buffer, treating as miss", ref.ClientRef)
			return nil
		}
	}

	// Hand out a copy so a caller mutating the bundle cannot corrupt the
	// cached one for other readers.
	return entry.bundle.Clone()
}

// Put caches a bundle. The effective TTL is the requested TTL capped at the
// earliest sub-record expiry minus the buffer; a zero-or-negative result is
// simply not cached.
func (c *Cache) Put(ref Ref, bundle *Bundle, ttl time.Duration) {
	if bundle == nil {
		return
	}

	now := c.now()
	effective := ttl
	for _, sub := range []ScopeTier{TierResourceManager, TierDirectoryGraph} {
		if ts := bundle.TokensFor(sub); ts != nil {
			if untilStale := ts.ExpiresAt.Sub(now) - c.buffer; untilStale < effective {
				effective = untilStale
			}
		}
	}

	if effective <= 0 {
		logging.Debug("Cache", "Bundle for client=%s too close to expiry, not caching", ref.ClientRef)
		return
	}

	c.mu.Lock()
	c.entries[ref] = &cacheEntry{
		bundle:    bundle.Clone(),
		expiresAt: now.Add(effective),
	}
	c.mu.Unlock()
}

// Invalidate removes the entry for a ref. Called after every successful
// store write and on revoke.
func (c *Cache) Invalidate(ref Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ref)
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop stops the background cleanup goroutine.
func (c *Cache) Stop() {
	close(c.stopCleanup)
}

// cleanupLoop periodically removes expired entries.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) cleanup() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for ref, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, ref)
			count++
		}
	}
	if count > 0 {
		logging.Debug("Cache", "Cleaned up %d expired entries", count)
	}
}
