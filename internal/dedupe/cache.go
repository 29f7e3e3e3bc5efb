// ABOUTME: TTL cache over Matrix event IDs so a re-delivered sync event
// ABOUTME: never admits or enqueues the same job twice

package dedupe

import (
	"sync"
	"time"
)

// cleanupInterval is how often expired entries are swept.
const cleanupInterval = time.Minute

// Cache tracks recently seen event IDs. Matrix sync can re-deliver events
// after reconnects; anything seen within the TTL is dropped at the bridge.
type Cache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// New creates a cache with the given TTL and starts its sweep goroutine.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark atomically checks whether the event ID was already seen and
// marks it if not. Returns true for a duplicate.
func (c *Cache) CheckAndMark(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.seen[eventID]; ok && time.Since(ts) < c.ttl {
		return true
	}
	c.seen[eventID] = time.Now()
	return false
}

// Len returns the number of tracked entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// sweep drops expired entries on a fixed interval.
func (c *Cache) sweep() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for id, ts := range c.seen {
				if now.Sub(ts) >= c.ttl {
					delete(c.seen, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
