// Package cache provides the suggestion cache search.Service uses to
// avoid re-sampling recent tasks on every key/value autocomplete
// request. Backend abstracts over an in-process map (single instance)
// and a Redis-backed store (multi-instance, see redis.go) behind the
// same JSON-round-trip contract, so callers never care which is active.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Backend is anything that can serve the suggestion cache. Values are
// always JSON round-tripped through Get/Set so the in-process and
// Redis-backed implementations behave identically.
type Backend interface {
	// Get unmarshals the cached value for key into out (a pointer) and
	// reports whether a live, unexpired entry was found.
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type entry struct {
	value      json.RawMessage
	expiration time.Time
}

type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: 10 * time.Minute,
	}
}

// Cache is a mutex-guarded map with per-entry expiration and a
// background sweep. Fine for the suggestion-cache scale this module
// uses it at; not meant for high-contention hot paths, and its
// contents don't survive a restart or spread across instances — use
// RedisCache for that.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	cfg     Config
}

var _ Backend = (*Cache)(nil)

func New(cfg Config) *Cache {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	c := &Cache{entries: make(map[string]entry), cfg: cfg}
	go c.sweep()
	return c
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expiration) {
				delete(c.entries, k)
			}
		}
		c.mu.Unlock()
	}
}

// Get unmarshals the cached value for key into out, reporting false if
// absent or expired.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiration) {
		return false, nil
	}
	if err := json.Unmarshal(e.value, out); err != nil {
		return false, fmt.Errorf("cache: decoding %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key for ttl (or the cache's DefaultTTL if ttl is 0).
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.cfg.DefaultTTL
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encoding %q: %w", key, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: buf, expiration: time.Now().Add(ttl)}
	return nil
}

// Invalidate removes key, if present.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Size returns the current entry count, including not-yet-swept expired
// entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
