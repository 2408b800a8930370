package botconfig

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/small-frappuccino/galactica/pkg/storage"
)

type countingSource struct {
	mu    sync.Mutex
	loads atomic.Int64
	cfg   storage.BotConfiguration
}

func (c *countingSource) GetBotConfiguration(ctx context.Context) (storage.BotConfiguration, error) {
	c.loads.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, nil
}

func (c *countingSource) set(cfg storage.BotConfiguration) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func TestColdGetLoadsOnce(t *testing.T) {
	src := &countingSource{}
	src.set(storage.BotConfiguration{Status: storage.StatusOnline, ActivityText: "Ready"})
	cache := NewCache(src)

	const callers = 32
	var wg sync.WaitGroup
	results := make([]storage.BotConfiguration, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := cache.Get(context.Background())
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			results[i] = cfg
		}(i)
	}
	wg.Wait()

	if got := src.loads.Load(); got != 1 {
		t.Fatalf("expected exactly one backing load, got %d", got)
	}
	for i, cfg := range results {
		if cfg.ActivityText != "Ready" {
			t.Fatalf("caller %d got inconsistent value: %+v", i, cfg)
		}
	}
}

func TestInvalidateForcesFreshLoad(t *testing.T) {
	src := &countingSource{}
	src.set(storage.BotConfiguration{ActivityText: "Ready"})
	cache := NewCache(src)

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}

	src.set(storage.BotConfiguration{ActivityText: "Custom"})

	// Without invalidation the memoized value is returned.
	cfg, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.ActivityText != "Ready" {
		t.Fatalf("expected memoized value, got %q", cfg.ActivityText)
	}

	cache.Invalidate()
	cfg, err = cache.Get(context.Background())
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if cfg.ActivityText != "Custom" {
		t.Fatalf("expected fresh value after invalidate, got %q", cfg.ActivityText)
	}
	if got := src.loads.Load(); got != 2 {
		t.Fatalf("expected two backing loads, got %d", got)
	}
}
