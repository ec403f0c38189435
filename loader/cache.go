package loader

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-zap/types"
)

const DefaultTTL = 5 * time.Second

type cacheEntry struct {
	source    string
	fetchedAt time.Time
}

// SourceCache keeps recently loaded sources for a fixed TTL. Without
// coalescing, concurrent misses for one name each fetch and the last write
// wins.
type SourceCache struct {
	loader  types.SourceLoader
	ttl     time.Duration
	now     func() time.Time
	logger  types.Logger
	metrics types.MetricsManager
	group   *singleflight.Group
	entries map[string]cacheEntry
	mu      sync.Mutex
}

type Option func(*SourceCache)

func WithClock(now func() time.Time) Option {
	return func(c *SourceCache) { c.now = now }
}

func WithCoalescing() Option {
	return func(c *SourceCache) { c.group = &singleflight.Group{} }
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(c *SourceCache) { c.metrics = metrics }
}

func WithLogger(logger types.Logger) Option {
	return func(c *SourceCache) { c.logger = logger }
}

func NewSourceCache(loader types.SourceLoader, ttl time.Duration, opts ...Option) *SourceCache {
	c := &SourceCache{
		loader:  loader,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *SourceCache) Load(ctx context.Context, name string) (string, error) {
	if source, ok := c.lookup(name); ok {
		c.count("source_cache_requests_total", "hit")
		return source, nil
	}

	c.count("source_cache_requests_total", "miss")

	if c.group == nil {
		return c.fetch(ctx, name)
	}

	v, err, shared := c.group.Do(name, func() (interface{}, error) {
		return c.fetch(ctx, name)
	})
	if shared && c.logger != nil {
		c.logger.Debug("Coalesced source fetch", zap.String("handler", name))
	}
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Invalidate drops the cached entry for name.
func (c *SourceCache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

func (c *SourceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SourceCache) lookup(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[name]
	if !ok {
		return "", false
	}

	if c.now().Sub(entry.fetchedAt) >= c.ttl {
		return "", false
	}

	return entry.source, true
}

func (c *SourceCache) fetch(ctx context.Context, name string) (string, error) {
	source, err := c.loader.Load(ctx, name)
	if err != nil {
		c.count("source_fetches_total", "error")
		return "", err
	}

	c.count("source_fetches_total", "ok")

	c.mu.Lock()
	c.entries[name] = cacheEntry{source: source, fetchedAt: c.now()}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("Source fetched", zap.String("handler", name), zap.Int("bytes", len(source)))
	}

	return source, nil
}

func (c *SourceCache) count(name, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Counter(name, map[string]string{"result": result}).Inc()
}
