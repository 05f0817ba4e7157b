package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agromano/backoffice/pkg/observability"
)

// Cache layer labels
const (
	CacheLayerMemory = "memory"
	CacheLayerRedis  = "redis"
)

// CacheRecorder receives cache telemetry
type CacheRecorder interface {
	ObserveCacheLookup(layer string, hit bool)
	ObserveCachePurge()
}

type nopCacheRecorder struct{}

func (nopCacheRecorder) ObserveCacheLookup(string, bool) {}
func (nopCacheRecorder) ObserveCachePurge()              {}

// RedisPermissionCache is the shared second cache layer, keyed by role and query kind
type RedisPermissionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPermissionCache creates a Redis layer. Keys are namespaced under prefix.
func NewRedisPermissionCache(client *redis.Client, prefix string, ttl time.Duration) *RedisPermissionCache {
	if prefix == "" {
		prefix = "authz:role_permissions"
	}
	return &RedisPermissionCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisPermissionCache) key(k string) string {
	return c.prefix + ":" + k
}

// Get returns the cached codes. The bool is false on a miss.
func (c *RedisPermissionCache) Get(ctx context.Context, k string) ([]string, bool, error) {
	data, err := c.client.Get(ctx, c.key(k)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		c.client.Del(ctx, c.key(k))
		return nil, false, fmt.Errorf("failed to unmarshal cached permissions: %w", err)
	}
	return codes, true, nil
}

// Set stores codes under k with the layer TTL
func (c *RedisPermissionCache) Set(ctx context.Context, k string, codes []string) error {
	if codes == nil {
		codes = []string{}
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return c.client.Set(ctx, c.key(k), data, c.ttl).Err()
}

// Purge deletes every key under the prefix
func (c *RedisPermissionCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// CachedPermissionStore is a read-through PermissionStore with an in-process LRU
// in front of an optional Redis layer. Only successful reads are cached, so
// schema drift and store failures always reach the cascade.
type CachedPermissionStore struct {
	inner    PermissionStore
	memory   *lru.LRU[string, []string]
	shared   *RedisPermissionCache
	recorder CacheRecorder
	logger   *observability.Logger
}

// CacheOption configures a CachedPermissionStore
type CacheOption func(*CachedPermissionStore)

// WithSharedCache adds the Redis layer
func WithSharedCache(shared *RedisPermissionCache) CacheOption {
	return func(c *CachedPermissionStore) { c.shared = shared }
}

// WithCacheRecorder sets the telemetry sink
func WithCacheRecorder(r CacheRecorder) CacheOption {
	return func(c *CachedPermissionStore) { c.recorder = r }
}

// WithCacheLogger sets the logger for Redis faults
func WithCacheLogger(l *observability.Logger) CacheOption {
	return func(c *CachedPermissionStore) { c.logger = l }
}

// NewCachedPermissionStore wraps inner with a memory layer of size entries and ttl lifetime
func NewCachedPermissionStore(inner PermissionStore, size int, ttl time.Duration, opts ...CacheOption) *CachedPermissionStore {
	if size < 1 {
		size = 256
	}
	c := &CachedPermissionStore{
		inner:    inner,
		memory:   lru.NewLRU[string, []string](size, nil, ttl),
		recorder: nopCacheRecorder{},
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActivePermissionsForRole implements PermissionStore
func (c *CachedPermissionStore) ActivePermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	return c.read(ctx, fmt.Sprintf("active:%d", roleID), func() ([]string, error) {
		return c.inner.ActivePermissionsForRole(ctx, roleID)
	})
}

// AllPermissionsForRole implements PermissionStore
func (c *CachedPermissionStore) AllPermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	return c.read(ctx, fmt.Sprintf("all:%d", roleID), func() ([]string, error) {
		return c.inner.AllPermissionsForRole(ctx, roleID)
	})
}

func (c *CachedPermissionStore) read(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	if codes, ok := c.memory.Get(key); ok {
		c.recorder.ObserveCacheLookup(CacheLayerMemory, true)
		return cloneCodes(codes), nil
	}
	c.recorder.ObserveCacheLookup(CacheLayerMemory, false)

	if c.shared != nil {
		codes, ok, err := c.shared.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.WithError(err).WithField("key", key).Warn("shared permission cache read failed")
		case ok:
			c.recorder.ObserveCacheLookup(CacheLayerRedis, true)
			c.memory.Add(key, codes)
			return cloneCodes(codes), nil
		default:
			c.recorder.ObserveCacheLookup(CacheLayerRedis, false)
		}
	}

	codes, err := load()
	if err != nil {
		return nil, err
	}

	c.memory.Add(key, cloneCodes(codes))
	if c.shared != nil {
		if err := c.shared.Set(ctx, key, codes); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("shared permission cache write failed")
		}
	}
	return codes, nil
}

// Purge empties both layers
func (c *CachedPermissionStore) Purge(ctx context.Context) error {
	c.memory.Purge()
	c.recorder.ObserveCachePurge()
	if c.shared != nil {
		return c.shared.Purge(ctx)
	}
	return nil
}

// Len returns the number of entries in the memory layer
func (c *CachedPermissionStore) Len() int {
	return c.memory.Len()
}

func cloneCodes(codes []string) []string {
	return append([]string(nil), codes...)
}
