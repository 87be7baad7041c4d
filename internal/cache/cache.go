// Package cache memoizes successful resolutions per (site, size) and collapses concurrent
// misses for the same key into one resolution.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/snapbooks-app/geticon/internal/icon"
	"github.com/snapbooks-app/geticon/internal/metrics"
)

// DefaultTTL is how long a successful resolution is served from memory.
const DefaultTTL = time.Hour

// DefaultMaxEntries bounds the number of cached resolutions.
const DefaultMaxEntries = 10000

const sinkTimeout = 30 * time.Second

// Entry is one cached resolution. Entries are never mutated after they are stored.
type Entry struct {
	Key         string
	Result      icon.Result
	CreatedAt   time.Time
	ContentHash string
}

// Found reports whether the entry carries an icon.
func (e Entry) Found() bool {
	return e.Result.Found()
}

// ETag is the quoted content hash, suitable for the ETag header.
func (e Entry) ETag() string {
	if e.ContentHash == "" {
		return ""
	}
	return `"` + e.ContentHash + `"`
}

// Config tunes the cache.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// Stats is a point-in-time snapshot for health reporting.
type Stats struct {
	Entries int           `json:"entries"`
	Hits    uint64        `json:"hits"`
	Misses  uint64        `json:"misses"`
	Shared  uint64        `json:"shared"`
	TTL     time.Duration `json:"ttl_ns"`
}

// Cache wraps an icon.Resolver.
type Cache struct {
	resolver icon.Resolver
	clock    icon.Clock
	hasher   icon.Hasher
	sink     icon.ResolutionSink
	ttl      time.Duration
	logger   *zap.Logger

	// mu serializes expiry against store so a stale read never drops a newer entry.
	mu      sync.Mutex
	entries *lru.Cache[string, Entry]

	group singleflight.Group

	closeMu sync.Mutex
	closed  bool
	pending sync.WaitGroup

	hits   atomic.Uint64
	misses atomic.Uint64
	shared atomic.Uint64
}

// New builds a Cache. sink may be nil.
func New(
	resolver icon.Resolver,
	clock icon.Clock,
	hasher icon.Hasher,
	cfg Config,
	sink icon.ResolutionSink,
	logger *zap.Logger,
) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := lru.New[string, Entry](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{
		resolver: resolver,
		clock:    clock,
		hasher:   hasher,
		sink:     sink,
		ttl:      cfg.TTL,
		logger:   logger,
		entries:  entries,
	}, nil
}

// Resolve returns the cached entry for the request or resolves it. A hit inside the TTL
// returns the stored entry unchanged. Misses for the same key share one resolution, which
// keeps running when the caller that started it goes away; a canceled caller gets ctx.Err().
// Results without an icon are returned but never stored.
func (c *Cache) Resolve(ctx context.Context, request icon.Request) (Entry, error) {
	key := request.CacheKey()
	if entry, ok := c.lookup(key); ok {
		c.hits.Add(1)
		metrics.ObserveCacheEvent("hit")
		return entry, nil
	}
	c.misses.Add(1)
	metrics.ObserveCacheEvent("miss")

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fill(detached, key, request)
	})

	select {
	case <-ctx.Done():
		return Entry{}, fmt.Errorf("await resolution %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
			metrics.ObserveCacheEvent("shared")
		}
		if res.Err != nil {
			return Entry{}, res.Err
		}
		entry, ok := res.Val.(Entry)
		if !ok {
			return Entry{}, fmt.Errorf("%w: unexpected flight value %T", icon.ErrInternal, res.Val)
		}
		return entry, nil
	}
}

func (c *Cache) fill(ctx context.Context, key string, request icon.Request) (Entry, error) {
	// Another flight may have stored the key between our lookup and this call.
	if entry, ok := c.lookup(key); ok {
		return entry, nil
	}

	tracked := c.track()
	if tracked {
		defer c.pending.Done()
	}

	result, err := c.resolver.Resolve(ctx, request)
	if err != nil {
		if errors.Is(err, icon.ErrInternal) {
			metrics.IncInternalErrors()
		}
		return Entry{}, fmt.Errorf("resolve %s: %w", key, err)
	}

	now := c.clock.Now()
	entry := Entry{Key: key, Result: result, CreatedAt: now}
	if !result.Found() {
		return entry, nil
	}

	hash, err := c.hasher.Hash(result.Best.Data)
	if err != nil {
		metrics.IncInternalErrors()
		return Entry{}, fmt.Errorf("%w: hash icon for %s: %v", icon.ErrInternal, key, err)
	}
	entry.ContentHash = hash
	c.store(entry)

	c.logger.Debug("cached resolution",
		zap.String("key", key),
		zap.String("url", result.Best.URL),
		zap.String("content_hash", hash),
	)
	if !tracked {
		c.logger.Debug("cache closed, resolution not recorded", zap.String("key", key))
		return entry, nil
	}
	c.notify(ctx, icon.Resolution{
		Key:         key,
		Result:      result,
		ContentHash: hash,
		ResolvedAt:  now,
	})
	return entry, nil
}

// lookup returns a fresh entry and marks it recently used. Expired entries are dropped.
func (c *Cache) lookup(key string) (Entry, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return Entry{}, false
	}
	if c.fresh(entry, c.clock.Now()) {
		return entry, true
	}

	c.mu.Lock()
	if current, ok := c.entries.Peek(key); ok && current.CreatedAt.Equal(entry.CreatedAt) {
		c.entries.Remove(key)
		metrics.ObserveCacheEvent("expired")
	}
	c.mu.Unlock()
	metrics.SetCacheEntries(c.entries.Len())
	return Entry{}, false
}

func (c *Cache) fresh(entry Entry, now time.Time) bool {
	return now.Sub(entry.CreatedAt) < c.ttl
}

// store inserts entry; past MaxEntries the least recently used entry goes.
func (c *Cache) store(entry Entry) {
	c.mu.Lock()
	evicted := c.entries.Add(entry.Key, entry)
	c.mu.Unlock()
	if evicted {
		metrics.ObserveCacheEvent("evicted")
	}
	metrics.SetCacheEntries(c.entries.Len())
}

// track registers work Close must wait for. It reports false once Close has begun.
func (c *Cache) track() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return false
	}
	c.pending.Add(1)
	return true
}

// notify hands the resolution to the sink. Callers hold a pending slot from track.
func (c *Cache) notify(ctx context.Context, resolution icon.Resolution) {
	if c.sink == nil {
		return
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		defer cancel()
		c.sink.Record(sinkCtx, resolution)
	}()
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.entries.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Shared:  c.shared.Load(),
		TTL:     c.ttl,
	}
}

// Close waits for in-flight resolutions and their sink notifications. Resolutions that
// start afterwards are still served and cached but no longer reach the sink.
func (c *Cache) Close() {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
	c.pending.Wait()
}
