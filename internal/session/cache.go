// ABOUTME: Thread-safe TTL cache mapping session IDs to account IDs.
// ABOUTME: Backs the hot authenticate path so token checks skip the store.

package session

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the cached identity and list element for a session ID.
type cacheEntry struct {
	accountID string
	timestamp time.Time
	element   *list.Element
}

// cache is a TTL-based, size-limited map from session ID to account ID.
// The real-time path consults it instead of the store; a hit may lag a
// revocation by at most the cache TTL, which the fresh path never does.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // session IDs in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// newCache creates a session cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func newCache(ttl time.Duration, maxSize int) *cache {
	c := &cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// get returns the cached account ID for a session, if present and unexpired.
func (c *cache) get(sessionID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[sessionID]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return "", false
	}
	return entry.accountID, true
}

// put records a session→account mapping. If the cache is at capacity,
// the oldest entry is evicted to make room.
func (c *cache) put(sessionID, accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if entry, exists := c.seen[sessionID]; exists {
		entry.accountID = accountID
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(sessionID)
	c.seen[sessionID] = &cacheEntry{
		accountID: accountID,
		timestamp: now,
		element:   elem,
	}
}

// delete drops a single session from the cache.
func (c *cache) delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[sessionID]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, sessionID)
	}
}

// deleteAccount drops every cached session belonging to an account.
func (c *cache) deleteAccount(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sessionID, entry := range c.seen {
		if entry.accountID == accountID {
			c.order.Remove(entry.element)
			delete(c.seen, sessionID)
		}
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	sessionID, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, sessionID)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for sessionID, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, sessionID)
		}
	}
}

// close stops the background cleanup goroutine. Safe to call multiple times.
func (c *cache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
