package accessory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Cache persists accessories between restarts so bindings can be restored before
// the hub answers.
type Cache interface {
	Load(ctx context.Context) ([]CachedAccessory, error)
	Save(ctx context.Context, acc CachedAccessory) error
}

// MemoryCache is the Cache used when no Redis is configured; it forgets everything on exit.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]CachedAccessory
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]CachedAccessory{}}
}

func (c *MemoryCache) Load(_ context.Context) ([]CachedAccessory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CachedAccessory, 0, len(c.items))
	for _, acc := range c.items {
		out = append(out, acc)
	}
	sortCached(out)
	return out, nil
}

func (c *MemoryCache) Save(_ context.Context, acc CachedAccessory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[acc.UUID] = acc
	return nil
}

// RedisCache keeps accessories in one Redis hash: field = accessory UUID, value = JSON.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, key string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisCache{client: client, key: key}, nil
}

func (c *RedisCache) Load(ctx context.Context) ([]CachedAccessory, error) {
	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get hash %s: %w", c.key, err)
	}

	out := make([]CachedAccessory, 0, len(fields))
	for field, raw := range fields {
		var acc CachedAccessory
		if err := json.Unmarshal([]byte(raw), &acc); err != nil {
			return nil, fmt.Errorf("decode cached accessory %s: %w", field, err)
		}
		out = append(out, acc)
	}
	sortCached(out)
	return out, nil
}

func (c *RedisCache) Save(ctx context.Context, acc CachedAccessory) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode cached accessory %s: %w", acc.UUID, err)
	}
	if err := c.client.HSet(ctx, c.key, acc.UUID, data).Err(); err != nil {
		return fmt.Errorf("failed to set hash field %s:%s: %w", c.key, acc.UUID, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func sortCached(list []CachedAccessory) {
	sort.Slice(list, func(i, j int) bool { return list[i].UUID < list[j].UUID })
}
