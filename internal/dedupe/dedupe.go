// ABOUTME: Thread-safe TTL cache for suppressing redelivered envelopes.
// ABOUTME: Keys are payload hashes; insertion order gives O(1) eviction at capacity.

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type entry struct {
	stamp   time.Time
	element *list.Element
}

// Cache tracks recently seen payloads so redelivered envelopes can be
// dropped. Entries expire after the TTL; when the cache is at capacity the
// oldest entry is evicted.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine sweeps expired entries; call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen reports whether payload was already observed within the TTL, and
// marks it observed if not. The check and mark are atomic.
func (c *Cache) Seen(payload []byte) bool {
	sum := sha256.Sum256(payload)
	return c.seenKey(hex.EncodeToString(sum[:]))
}

func (c *Cache) seenKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && time.Since(e.stamp) < c.ttl {
		e.stamp = time.Now()
		c.order.MoveToBack(e.element)
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &entry{stamp: time.Now(), element: c.order.PushBack(key)}
	return false
}

// Reset forgets every tracked payload. Suppression only makes sense within
// one exchange: the same bytes showing up in a later exchange are a fresh
// message, not a redelivery.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen = make(map[string]*entry)
	c.order.Init()
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweep() {
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

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.seen {
		if now.Sub(e.stamp) > c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
