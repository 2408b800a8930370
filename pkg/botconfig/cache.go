// Package botconfig keeps the bot presence configuration close to the
// process: a single memoized slot over the durable store, refreshed only by
// explicit invalidation driven off the notification channel.
package botconfig

import (
	"context"
	"sync"

	"github.com/small-frappuccino/galactica/pkg/storage"
)

// Source loads the singleton configuration from the backing store.
type Source interface {
	GetBotConfiguration(ctx context.Context) (storage.BotConfiguration, error)
}

// Cache memoizes the bot configuration. There is no TTL: staleness is
// corrected only by Invalidate, never by time.
type Cache struct {
	source Source

	mu     sync.RWMutex
	cached *storage.BotConfiguration
}

// NewCache returns a cold cache over source.
func NewCache(source Source) *Cache {
	return &Cache{source: source}
}

// Get returns the memoized configuration, loading it from the source when the
// cache is cold. Concurrent cold calls perform a single backing load; the
// slot is re-checked under the write lock before loading.
func (c *Cache) Get(ctx context.Context) (storage.BotConfiguration, error) {
	c.mu.RLock()
	if c.cached != nil {
		cfg := *c.cached
		c.mu.RUnlock()
		return cfg, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil {
		return *c.cached, nil
	}

	cfg, err := c.source.GetBotConfiguration(ctx)
	if err != nil {
		return storage.BotConfiguration{}, err
	}
	c.cached = &cfg
	return cfg, nil
}

// Invalidate clears the memoized value. Safe to call concurrently with Get;
// the next Get performs a fresh load.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
