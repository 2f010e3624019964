// ABOUTME: Thread-safe TTL cache implementing the in-process dedup claim.
// ABOUTME: Used as the Claimer when switchboard runs as a single instance without Redis.

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// claimEntry stores the expiry and list element for a claimed key.
type claimEntry struct {
	expiresAt time.Time
	element   *list.Element
}

// Cache is a size-bounded set of claimed keys, each with its own TTL.
// Claim order is kept in a linked list so the oldest claim is evicted in
// O(1) when the cache is full.
type Cache struct {
	mu         sync.Mutex
	claims     map[string]*claimEntry
	order      *list.List // oldest claim at front
	defaultTTL time.Duration
	maxSize    int
	now        func() time.Time
	done       chan struct{}
	closed     bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// New creates a cache whose claims default to ttl and which holds at most
// maxSize keys. A background goroutine drops expired claims every
// cleanupInterval until Close is called.
func New(ttl time.Duration, maxSize int, cleanupInterval time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		claims:     make(map[string]*claimEntry),
		order:      list.New(),
		defaultTTL: ttl,
		maxSize:    maxSize,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	go c.cleanup(cleanupInterval)
	return c
}

// Claim marks key as taken for ttl. It returns true if the caller won the
// claim and false if an unexpired claim already exists. A zero ttl uses the
// cache default.
func (c *Cache) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.claims[key]; ok {
		if now.Before(entry.expiresAt) {
			return false, nil
		}
		c.order.Remove(entry.element)
		delete(c.claims, key)
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.claims[key] = &claimEntry{
		expiresAt: now.Add(ttl),
		element:   c.order.PushBack(key),
	}
	return true, nil
}

// Held reports whether key has an unexpired claim.
func (c *Cache) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.claims[key]
	return ok && c.now().Before(entry.expiresAt)
}

// Len returns the number of stored claims, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// evictOldestLocked drops the least recently claimed key. Must be called with mu held.
func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, key)
}

func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep removes every expired claim.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.claims {
		if !now.Before(entry.expiresAt) {
			c.order.Remove(entry.element)
			delete(c.claims, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
	return nil
}
