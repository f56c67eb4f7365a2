// Package dedupe tracks seen event ids so redelivered chat events are
// processed at most once within a configurable window.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of seen event ids.
// Insertion order is kept in a doubly-linked list so capacity eviction is
// O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine sweeps expired entries once a minute.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// CheckAndMark atomically checks whether key has been seen and marks it if
// not. Returns true for a duplicate. The check and the mark happen under one
// lock so two concurrent deliveries of the same event cannot both proceed.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && time.Since(e.timestamp) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget removes key from the cache. Used by the fail-open redelivery
// policy after a failed backend call.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	if !ok {
		return
	}
	c.order.Remove(e.element)
	delete(c.seen, key)
}

// Len returns the number of tracked keys, including not-yet-swept expired
// ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) markLocked(key string) {
	now := time.Now()

	if e, exists := c.seen[key]; exists {
		e.timestamp = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &entry{timestamp: now, element: elem}
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.seen {
		if now.Sub(e.timestamp) > c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
