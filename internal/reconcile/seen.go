// ABOUTME: TTL-bounded seen-id set backing Timeline's push deduplication
// ABOUTME: Doubly-linked list keeps insertion order for O(1) eviction

package reconcile

import (
	"container/list"
	"sync"
	"time"
)

type seenEntry struct {
	timestamp time.Time
	element   *list.Element
}

// seenCache tracks server ids the timeline has already absorbed. TTL-based
// and size-limited so long-lived thread views don't grow without bound.
type seenCache struct {
	mu      sync.Mutex
	seen    map[string]*seenEntry
	order   *list.List // ids in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// newSeenCache creates a cache with the given TTL and maximum size. A
// background goroutine periodically drops expired ids.
func newSeenCache(ttl time.Duration, maxSize int) *seenCache {
	c := &seenCache{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// checkAndMark atomically checks whether an id was already seen and marks it
// if not. Returns true for duplicates.
func (c *seenCache) checkAndMark(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[id]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.markLocked(id)
	return false
}

// mark records an id as seen without a duplicate check.
func (c *seenCache) mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(id)
}

func (c *seenCache) markLocked(id string) {
	now := time.Now()

	if entry, exists := c.seen[id]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(id)
	c.seen[id] = &seenEntry{timestamp: now, element: elem}
}

// evictOldest removes the oldest id. Must be called with mu held.
func (c *seenCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}

func (c *seenCache) cleanup() {
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

func (c *seenCache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, id)
		}
	}
}

// close stops the background cleanup goroutine. Safe to call multiple times.
func (c *seenCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
