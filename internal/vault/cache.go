// ABOUTME: Credential cache with bounded freshness, in-process backend
// ABOUTME: Entries are keyed name@version; invalidation drops every version of a name

package vault

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// Cache holds provider results for a bounded time. Values are whatever the
// provider returned, so sealed values stay sealed at rest in the cache.
type Cache interface {
	Get(ctx context.Context, key string) (*KeyVaultSecret, bool)
	Set(ctx context.Context, key string, secret *KeyVaultSecret, ttl time.Duration)
	// Invalidate removes every cached version of name.
	Invalidate(ctx context.Context, name string)
	Close() error
}

const latestVersion = "latest"

// CacheKey returns the cache key for a name and version; "" means latest.
func CacheKey(name, version string) string {
	if version == "" {
		version = latestVersion
	}
	return name + "@" + version
}

type memoryEntry struct {
	secret    *KeyVaultSecret
	expiresAt time.Time
	element   *list.Element
}

// MemoryCache is a TTL cache bounded by entry count. When full, the least
// recently written entry is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	order   *list.List // keys, oldest write at front
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewMemoryCache starts a cache with a background sweeper for expired entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	c := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) (*KeyVaultSecret, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(key, e)
		return nil, false
	}
	return copySecret(e.secret), true
}

func (c *MemoryCache) Set(_ context.Context, key string, secret *KeyVaultSecret, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if e, ok := c.entries[key]; ok {
		e.secret = copySecret(secret)
		e.expiresAt = expiresAt
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			k, _ := front.Value.(string)
			c.removeLocked(k, c.entries[k])
		}
	}

	c.entries[key] = &memoryEntry{
		secret:    copySecret(secret),
		expiresAt: expiresAt,
		element:   c.order.PushBack(key),
	}
}

func (c *MemoryCache) Invalidate(_ context.Context, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := name + "@"
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(key, e)
		}
	}
}

// Len reports the number of entries, expired ones included until swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) removeLocked(key string, e *memoryEntry) {
	if e == nil {
		return
	}
	c.order.Remove(e.element)
	delete(c.entries, key)
}

func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			c.removeLocked(key, e)
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
	return nil
}
