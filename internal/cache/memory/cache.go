// Package memory provides an in-memory CacheStore for development/testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/haybaler/perception/internal/analysis"
)

type entry struct {
	outcome   analysis.EngineOutcome
	expiresAt time.Time
}

type cacheKey struct {
	url    string
	engine analysis.EngineName
}

// Cache maps (normalized URL, engine) to a success outcome with an expiry.
// Reads perform lazy expiry: an entry past its deadline is treated as
// absent; reclamation happens on the next Put or Invalidate for the key.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]entry
	now     func() time.Time
}

// NewCache constructs a Cache.
func NewCache(clock analysis.Clock) *Cache {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &Cache{
		entries: make(map[cacheKey]entry),
		now:     now,
	}
}

// Get returns the cached outcome for (url, engine) if present and unexpired.
func (c *Cache) Get(_ context.Context, url string, engine analysis.EngineName) (analysis.EngineOutcome, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey{url: url, engine: engine}]
	if !ok || c.now().After(e.expiresAt) {
		return analysis.EngineOutcome{}, false, nil
	}
	return e.outcome, true, nil
}

// Put stores a success outcome. Non-success outcomes are dropped so stale
// errors never poison later requests. Concurrent writers race last-write-wins.
func (c *Cache) Put(_ context.Context, url string, engine analysis.EngineName, outcome analysis.EngineOutcome, ttl time.Duration) error {
	if outcome.Status != analysis.OutcomeSuccess || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{url: url, engine: engine}] = entry{
		outcome:   outcome,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Invalidate removes entries for the URL; with no engines given it removes
// every engine's entry for that URL.
func (c *Cache) Invalidate(_ context.Context, url string, engines ...analysis.EngineName) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(engines) == 0 {
		for k := range c.entries {
			if k.url == url {
				delete(c.entries, k)
			}
		}
		return nil
	}
	for _, engine := range engines {
		delete(c.entries, cacheKey{url: url, engine: engine})
	}
	return nil
}

// Len reports the number of stored entries, expired included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
