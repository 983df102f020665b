package budget

import (
	"sync"
	"time"

	"github.com/xraph/credits/id"
)

// Cache is an advisory, TTL-bounded view of budget statuses. It may answer
// checks quickly but is never consulted when settling a finalization.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[id.AccountID]cacheEntry
}

type cacheEntry struct {
	status  Status
	expires time.Time
}

// NewCache creates a cache whose entries live for ttl. A non-positive ttl
// disables caching.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[id.AccountID]cacheEntry),
	}
}

// WithClock overrides the cache clock.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns a fresh cached status for the account.
func (c *Cache) Get(accountID id.AccountID) (Status, bool) {
	if c.ttl <= 0 {
		return Status{}, false
	}
	c.mu.RLock()
	e, ok := c.entries[accountID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return Status{}, false
	}
	s := e.status
	s.Cached = true
	return s, true
}

// Set stores a status for the account.
func (c *Cache) Set(s Status) {
	if c.ttl <= 0 {
		return
	}
	s.Cached = false
	c.mu.Lock()
	c.entries[s.AccountID] = cacheEntry{status: s, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops the cached status for the account.
func (c *Cache) Invalidate(accountID id.AccountID) {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
}
