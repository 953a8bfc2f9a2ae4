package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/search-chat/internal/logger"
	"github.com/redis/go-redis/v9"
)

// SharedCache caches published conversations for GetShared. Failures are misses.
type SharedCache interface {
	Get(ctx context.Context, id string) (*Conversation, bool)
	Set(ctx context.Context, conv *Conversation)
	Invalidate(ctx context.Context, ids ...string)
}

const sharedCacheKeyPrefix = "chat:shared:"

// RedisSharedCache is a SharedCache shared across instances.
type RedisSharedCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedisSharedCache connects to Redis and verifies the connection.
func NewRedisSharedCache(ctx context.Context, opts *redis.Options, ttl time.Duration, logger *logger.Logger) (*RedisSharedCache, error) {
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisSharedCacheFromClient(client, ttl, logger), nil
}

func NewRedisSharedCacheFromClient(client *redis.Client, ttl time.Duration, logger *logger.Logger) *RedisSharedCache {
	return &RedisSharedCache{
		client: client,
		ttl:    ttl,
		logger: logger.WithComponent("shared-cache"),
	}
}

func (c *RedisSharedCache) Get(ctx context.Context, id string) (*Conversation, bool) {
	data, err := c.client.Get(ctx, sharedCacheKeyPrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithContext(ctx).Warn("shared cache read failed",
				slog.String("chat_id", id),
				slog.String("error", err.Error()))
		}
		return nil, false
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		c.logger.WithContext(ctx).Warn("shared cache entry is corrupt",
			slog.String("chat_id", id),
			slog.String("error", err.Error()))
		return nil, false
	}
	return &conv, true
}

func (c *RedisSharedCache) Set(ctx context.Context, conv *Conversation) {
	data, err := json.Marshal(conv)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, sharedCacheKeyPrefix+conv.ID, data, c.ttl).Err(); err != nil {
		c.logger.WithContext(ctx).Warn("shared cache write failed",
			slog.String("chat_id", conv.ID),
			slog.String("error", err.Error()))
	}
}

func (c *RedisSharedCache) Invalidate(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sharedCacheKeyPrefix+id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithContext(ctx).Warn("shared cache invalidation failed",
			slog.Int("count", len(keys)),
			slog.String("error", err.Error()))
	}
}

// Close closes the Redis client.
func (c *RedisSharedCache) Close() error {
	return c.client.Close()
}

// MemorySharedCache is a bounded in-process SharedCache with per-entry expiry.
type MemorySharedCache struct {
	cache   map[string]*cacheEntry
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	conv      *Conversation
	expiresAt time.Time
}

func NewMemorySharedCache(maxSize int, ttl time.Duration) *MemorySharedCache {
	return &MemorySharedCache{
		cache:   make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *MemorySharedCache) Get(_ context.Context, id string) (*Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.cache[id]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}

	return cloneConversation(entry.conv, true), true
}

func (c *MemorySharedCache) Set(_ context.Context, conv *Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict an arbitrary entry at capacity.
	if _, exists := c.cache[conv.ID]; !exists && len(c.cache) >= c.maxSize {
		for k := range c.cache {
			delete(c.cache, k)
			break
		}
	}

	c.cache[conv.ID] = &cacheEntry{
		conv:      cloneConversation(conv, true),
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *MemorySharedCache) Invalidate(_ context.Context, ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		delete(c.cache, id)
	}
}

// Size returns the current number of entries.
func (c *MemorySharedCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.cache)
}
