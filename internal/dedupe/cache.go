// ABOUTME: Thread-safe TTL cache tracking message IDs already delivered to a poller
// ABOUTME: Backs the since-cursor with a seen-set so boundary overlaps never re-deliver

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type seenEntry struct {
	timestamp time.Time
	element   *list.Element
}

// SeenCache is a thread-safe, TTL-based, size-limited set of message IDs
// a poller has already delivered. The polling cursor alone cannot
// guarantee exactly-once delivery when timestamps collide at the cursor
// boundary; the seen-set closes that gap. Insertion order is kept in a
// doubly-linked list for O(1) eviction at capacity.
type SeenCache struct {
	mu      sync.Mutex
	seen    map[string]*seenEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewSeenCache creates a seen-set with the given entry TTL and capacity.
// A background goroutine sweeps expired entries once a minute.
func NewSeenCache(ttl time.Duration, maxSize int) *SeenCache {
	c := &SeenCache{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark atomically checks whether a message ID was already
// delivered and marks it if not. Returns true for a duplicate, false if
// the ID is new and now recorded. The single-call form avoids the
// check-then-mark race between concurrent pollers.
func (c *SeenCache) CheckAndMark(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[id]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.markLocked(id)
	return false
}

// Mark records a message ID without checking it first. Used to prefill
// the set with history the poller fetched before it started watching.
func (c *SeenCache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(id)
}

// Len returns the number of live entries, expired or not.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *SeenCache) markLocked(id string) {
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

// evictOldest drops the entry at the front of the insertion list.
// Must be called with mu held.
func (c *SeenCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}

func (c *SeenCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *SeenCache) removeExpired() {
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

// Close stops the sweeper goroutine. Safe to call more than once.
func (c *SeenCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
