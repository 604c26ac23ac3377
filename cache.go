package guardfile

import (
	"sync"
	"time"

	"github.com/guardfile/guardfile/validator"
)

// CacheStatistics contains decision cache performance metrics.
type CacheStatistics struct {
	Hits      int64
	Misses    int64
	Size      int64
	Evictions int64
	HitRate   float64
}

// cachedDecision is one remembered verdict keyed by content digest.
// Identical bytes produce the identical decision under a fixed policy, so
// the whole derived record can be replayed without re-validating.
type cachedDecision struct {
	decision   Decision
	findings   []validator.Finding
	mediaType  string
	severity   string
	added      time.Time
	expiration time.Time
	hasExpiry  bool
}

// DecisionCache remembers decisions by content digest so a re-scan of
// unchanged bytes skips validation. It is thread-safe and supports
// TTL-based expiration plus a hard entry cap.
type DecisionCache struct {
	mu         sync.RWMutex
	entries    map[string]*cachedDecision
	ttl        time.Duration
	maxEntries int
	hits       int64
	misses     int64
	evictions  int64
}

// NewDecisionCache creates a decision cache. A TTL of 0 means no
// expiration; maxEntries of 0 or less means unbounded.
func NewDecisionCache(ttl time.Duration, maxEntries int) *DecisionCache {
	return &DecisionCache{
		entries:    make(map[string]*cachedDecision),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// lookup retrieves the cached record for a digest.
func (c *DecisionCache) lookup(digest string) (*cachedDecision, bool) {
	c.mu.RLock()
	entry, exists := c.entries[digest]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	// Check expiration
	if entry.hasExpiry && time.Now().After(entry.expiration) {
		c.mu.Lock()
		delete(c.entries, digest)
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry, true
}

// store remembers the record for a digest, evicting to stay within the
// entry cap.
func (c *DecisionCache) store(digest string, entry *cachedDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.added = time.Now()
	if c.ttl > 0 {
		entry.expiration = entry.added.Add(c.ttl)
		entry.hasExpiry = true
	}

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		if _, replacing := c.entries[digest]; !replacing {
			c.makeRoomLocked()
		}
	}
	c.entries[digest] = entry
}

// makeRoomLocked drops expired entries, then the oldest live entry if the
// cache is still full. Caller holds the write lock.
func (c *DecisionCache) makeRoomLocked() {
	now := time.Now()
	for digest, entry := range c.entries {
		if entry.hasExpiry && now.After(entry.expiration) {
			delete(c.entries, digest)
			c.evictions++
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	var oldestKey string
	var oldest time.Time
	for digest, entry := range c.entries {
		if oldestKey == "" || entry.added.Before(oldest) {
			oldestKey = digest
			oldest = entry.added
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// Stats returns cache statistics.
func (c *DecisionCache) Stats() CacheStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStatistics{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      int64(len(c.entries)),
		Evictions: c.evictions,
		HitRate:   hitRate,
	}
}

// Len returns the number of entries currently held.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cachedDecision)
}

// Cleanup removes expired entries from the cache.
// Call this periodically on long-lived caches to bound memory.
func (c *DecisionCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for digest, entry := range c.entries {
		if entry.hasExpiry && now.After(entry.expiration) {
			delete(c.entries, digest)
		}
	}
}
