package commandqueue

import (
	"context"
	"sync"
	"time"
)

const (
	defaultDedupTTL    = 5 * time.Minute
	dedupSweepInterval = time.Minute
	maxDedupEntries    = 10000
)

// dedupID scopes a request id to its lane so two sessions never share a
// cached answer.
type dedupID struct {
	lane      string
	requestID string
}

func dedupKey(lane, requestID string) dedupID {
	return dedupID{lane: lane, requestID: requestID}
}

type dedupEntry struct {
	result  taskResult
	expires time.Time
}

// dedupCache remembers successful results of redelivered turns.
type dedupCache struct {
	mu      sync.Mutex
	entries map[dedupID]dedupEntry
	ttl     time.Duration
	limit   int
	now     func() time.Time
}

// newDedupCache starts a sweeper that lives as long as ctx.
func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	c := &dedupCache{
		entries: make(map[dedupID]dedupEntry),
		ttl:     ttl,
		limit:   maxDedupEntries,
		now:     time.Now,
	}
	go c.run(ctx)
	return c
}

func (c *dedupCache) Get(id dedupID) (taskResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok || !c.now().Before(entry.expires) {
		return taskResult{}, false
	}
	return entry.result, true
}

// Set stores result. When the cache is full the entry closest to expiry is
// evicted first.
func (c *dedupCache) Set(id dedupID, result taskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists && len(c.entries) >= c.limit {
		c.evictOldestLocked()
	}
	c.entries[id] = dedupEntry{result: result, expires: c.now().Add(c.ttl)}
}

func (c *dedupCache) evictOldestLocked() {
	var (
		oldest    dedupID
		oldestExp time.Time
		found     bool
	)
	for id, entry := range c.entries {
		if !found || entry.expires.Before(oldestExp) {
			oldest, oldestExp, found = id, entry.expires, true
		}
	}
	if found {
		delete(c.entries, oldest)
	}
}

// sweep drops expired entries and reports how many were removed.
func (c *dedupCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *dedupCache) run(ctx context.Context) {
	ticker := time.NewTicker(dedupSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
