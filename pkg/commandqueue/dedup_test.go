package commandqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestDedupCache(t *testing.T, ttl time.Duration) (*dedupCache, *stepClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	cache := newDedupCache(ctx, ttl)
	cache.now = clock.now
	return cache, clock
}

func TestDedupCache(t *testing.T) {
	t.Run("should return cached results until they expire", func(t *testing.T) {
		cache, clock := newTestDedupCache(t, time.Minute)
		key := dedupKey("session-a", "r1")
		cache.Set(key, taskResult{value: "v"})

		got, ok := cache.Get(key)
		assert.True(t, ok)
		assert.Equal(t, "v", got.value)

		clock.advance(time.Minute)
		_, ok = cache.Get(key)
		assert.False(t, ok)
	})

	t.Run("should scope request ids by lane", func(t *testing.T) {
		cache, _ := newTestDedupCache(t, time.Minute)
		cache.Set(dedupKey("session-a", "r1"), taskResult{value: "a"})

		_, ok := cache.Get(dedupKey("session-b", "r1"))
		assert.False(t, ok)
	})

	t.Run("should sweep only expired entries", func(t *testing.T) {
		cache, clock := newTestDedupCache(t, time.Minute)
		cache.Set(dedupKey("l", "old"), taskResult{value: 1})
		clock.advance(30 * time.Second)
		cache.Set(dedupKey("l", "new"), taskResult{value: 2})
		clock.advance(45 * time.Second)

		assert.Equal(t, 1, cache.sweep())
		assert.Equal(t, 1, cache.Len())
		_, ok := cache.Get(dedupKey("l", "new"))
		assert.True(t, ok)
	})

	t.Run("should evict the entry closest to expiry when full", func(t *testing.T) {
		cache, clock := newTestDedupCache(t, time.Minute)
		cache.limit = 2
		cache.Set(dedupKey("l", "first"), taskResult{value: 1})
		clock.advance(time.Second)
		cache.Set(dedupKey("l", "second"), taskResult{value: 2})
		clock.advance(time.Second)
		cache.Set(dedupKey("l", "third"), taskResult{value: 3})

		assert.Equal(t, 2, cache.Len())
		_, ok := cache.Get(dedupKey("l", "first"))
		assert.False(t, ok)
		_, ok = cache.Get(dedupKey("l", "third"))
		assert.True(t, ok)
	})
}
