package directory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/cab-dispatch/internal/models"
)

const DefaultRedisKey = "directory:contacts"

type MemoryCache struct {
	mu sync.RWMutex
	m  map[string][]models.Contact
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string][]models.Contact)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]models.Contact, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]models.Contact, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, contacts []models.Contact) error {
	cp := make([]models.Contact, len(contacts))
	copy(cp, contacts)
	c.mu.Lock()
	c.m[key] = cp
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	c.m = make(map[string][]models.Contact)
	c.mu.Unlock()
	return nil
}

// HashClient is the subset of redis commands the Redis cache uses.
type HashClient interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache keeps every collection as one field of a single hash so that
// invalidation is a single DEL.
type RedisCache struct {
	c   HashClient
	key string
}

func NewRedisCache(c HashClient, key string) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCache{c: c, key: key}
}

func (r *RedisCache) Get(ctx context.Context, field string) ([]models.Contact, bool, error) {
	raw, err := r.c.HGet(ctx, r.key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []models.Contact
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (r *RedisCache) Set(ctx context.Context, field string, contacts []models.Contact) error {
	b, err := json.Marshal(contacts)
	if err != nil {
		return err
	}
	return r.c.HSet(ctx, r.key, field, b).Err()
}

func (r *RedisCache) Clear(ctx context.Context) error {
	return r.c.Del(ctx, r.key).Err()
}
