// Package cache is a short-TTL response cache for non-streaming chat
// completions. Keys collapse a request to its model plus a prefix of the
// conversation text, so identical retries within the window are served
// without an upstream call.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"ztoapi/internal/domain"
)

const keyContentLen = 100

// Cache stores assembled response text keyed by request shape.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, content string)
}

// Key derives the cache key for a chat request. Only a prefix of the joined
// message contents participates, so very long conversations still produce
// bounded keys at the cost of rare collisions the TTL makes harmless.
func Key(model string, messages []domain.Message, stream bool) string {
	contents := make([]string, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "|")
	if len(joined) > keyContentLen {
		joined = joined[:keyContentLen]
	}
	return model + ":" + joined + ":" + strconv.FormatBool(stream)
}

type entry struct {
	content   string
	expiresAt time.Time
}

// InMemoryCache is the default process-local backend. Expired entries are
// dropped lazily on read and swept by a background ticker.
type InMemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
}

func NewInMemoryCache(ttl time.Duration, maxEntries int) *InMemoryCache {
	c := &InMemoryCache{
		entries:    make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (c *InMemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}
	return e.content, true
}

func (c *InMemoryCache) Set(_ context.Context, key, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{content: content, expiresAt: time.Now().Add(c.ttl)}
}

func (c *InMemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.expiresAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *InMemoryCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func (c *InMemoryCache) Close() {
	close(c.stop)
}

// Len reports the live entry count, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
