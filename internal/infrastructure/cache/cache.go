// Package cache provides the bounded, time-evicting recent-evaluation
// cache keyed by (chain, assetId). The pipeline owns the single instance;
// nothing else touches the keys.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecentCache answers "was this asset evaluated inside the dedup window".
type RecentCache interface {
	Seen(ctx context.Context, chain, assetID string) (bool, error)
	Mark(ctx context.Context, chain, assetID string) error
	Close() error
}

func key(chain, assetID string) string {
	return fmt.Sprintf("pulsearb:recent:%s:%s", chain, assetID)
}

// RedisCache implements RecentCache on Redis with native TTL eviction.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig configures the Redis-backed cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewRedisCache connects the dedup cache to Redis.
func NewRedisCache(config RedisConfig) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisCache{client: client, ttl: config.TTL}
}

func (c *RedisCache) Seen(ctx context.Context, chain, assetID string) (bool, error) {
	n, err := c.client.Exists(ctx, key(chain, assetID)).Result()
	if err != nil {
		return false, fmt.Errorf("cache exists: %w", err)
	}
	return n > 0, nil
}

func (c *RedisCache) Mark(ctx context.Context, chain, assetID string) error {
	if err := c.client.Set(ctx, key(chain, assetID), time.Now().Unix(), c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

// InProcCache is the Redis-free fallback: a mutex-guarded map with lazy
// TTL eviction and a hard entry cap so it stays bounded under key churn.
type InProcCache struct {
	mu         sync.Mutex
	entries    map[string]time.Time // key → expiry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewInProcCache creates the in-process cache.
func NewInProcCache(ttl time.Duration, maxEntries int) *InProcCache {
	return &InProcCache{
		entries:    make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// WithClock overrides the cache clock. Test hook.
func (c *InProcCache) WithClock(now func() time.Time) *InProcCache {
	c.now = now
	return c
}

func (c *InProcCache) Seen(_ context.Context, chain, assetID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.entries[key(chain, assetID)]
	if !ok {
		return false, nil
	}
	if c.now().After(expiry) {
		delete(c.entries, key(chain, assetID))
		return false, nil
	}
	return true, nil
}

func (c *InProcCache) Mark(_ context.Context, chain, assetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
	c.entries[key(chain, assetID)] = c.now().Add(c.ttl)
	return nil
}

func (c *InProcCache) Close() error { return nil }

// evictLocked drops expired entries, then oldest-expiry entries while over
// the cap.
func (c *InProcCache) evictLocked() {
	now := c.now()
	for k, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, expiry := range c.entries {
			if oldestKey == "" || expiry.Before(oldest) {
				oldestKey, oldest = k, expiry
			}
		}
		delete(c.entries, oldestKey)
	}
}
