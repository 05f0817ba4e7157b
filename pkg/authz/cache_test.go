package authz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheCounts struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
	purges int
}

func newCacheCounts() *cacheCounts {
	return &cacheCounts{hits: map[string]int{}, misses: map[string]int{}}
}

func (c *cacheCounts) ObserveCacheLookup(layer string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits[layer]++
	} else {
		c.misses[layer]++
	}
}

func (c *cacheCounts) ObserveCachePurge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges++
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCachedPermissionStore_MemoryLayer(t *testing.T) {
	inner := seededStore()
	inner.active[roleSupervisor] = []string{"asistencia:read:all"}
	counts := newCacheCounts()
	cache := NewCachedPermissionStore(inner, 16, time.Minute, WithCacheRecorder(counts))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cache.ActivePermissionsForRole(ctx, roleSupervisor)
		require.NoError(t, err)
		assert.Equal(t, []string{"asistencia:read:all"}, got)
	}

	assert.Equal(t, 1, inner.count("active"))
	assert.Equal(t, 2, counts.hits[CacheLayerMemory])
	assert.Equal(t, 1, counts.misses[CacheLayerMemory])
	assert.Equal(t, 1, cache.Len())
}

func TestCachedPermissionStore_KeysByQueryKind(t *testing.T) {
	inner := seededStore()
	inner.active[roleSupervisor] = []string{"asistencia:read:all"}
	inner.all[roleSupervisor] = []string{"asistencia:read:all", "nomina:process"}
	cache := NewCachedPermissionStore(inner, 16, time.Minute)
	ctx := context.Background()

	active, err := cache.ActivePermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)
	all, err := cache.AllPermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)

	assert.Len(t, active, 1)
	assert.Len(t, all, 2)
}

func TestCachedPermissionStore_ErrorsAreNotCached(t *testing.T) {
	inner := seededStore()
	inner.activeErr = driftErr()
	cache := NewCachedPermissionStore(inner, 16, time.Minute)
	ctx := context.Background()

	_, err := cache.ActivePermissionsForRole(ctx, roleSupervisor)
	assert.ErrorIs(t, err, ErrSchemaDrift)

	inner.activeErr = nil
	inner.active[roleSupervisor] = []string{"asistencia:approve"}

	got, err := cache.ActivePermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)
	assert.Equal(t, []string{"asistencia:approve"}, got)
	assert.Equal(t, 2, inner.count("active"))
}

func TestCachedPermissionStore_ReturnsCopies(t *testing.T) {
	inner := seededStore()
	inner.active[roleSupervisor] = []string{"asistencia:read:all"}
	cache := NewCachedPermissionStore(inner, 16, time.Minute)
	ctx := context.Background()

	first, err := cache.ActivePermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)
	first[0] = "roles:manage"

	second, err := cache.ActivePermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)
	assert.Equal(t, []string{"asistencia:read:all"}, second)
}

func TestCachedPermissionStore_SharedLayer(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	inner := seededStore()
	inner.active[roleSupervisor] = []string{"asistencia:read:all", "asistencia:approve"}
	shared := NewRedisPermissionCache(client, "test:perms", time.Minute)

	// first replica populates redis
	first := NewCachedPermissionStore(inner, 16, time.Minute, WithSharedCache(shared))
	_, err := first.ActivePermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)

	// second replica has a cold memory layer but finds the entry in redis
	counts := newCacheCounts()
	second := NewCachedPermissionStore(inner, 16, time.Minute, WithSharedCache(shared), WithCacheRecorder(counts))
	got, err := second.ActivePermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"asistencia:read:all", "asistencia:approve"}, got)
	assert.Equal(t, 1, inner.count("active"))
	assert.Equal(t, 1, counts.hits[CacheLayerRedis])
	assert.Equal(t, 1, counts.misses[CacheLayerMemory])
}

func TestCachedPermissionStore_RedisDownFallsThrough(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	inner := seededStore()
	inner.active[roleSupervisor] = []string{"asistencia:read:all"}
	cache := NewCachedPermissionStore(inner, 16, time.Minute,
		WithSharedCache(NewRedisPermissionCache(client, "", time.Minute)),
	)

	got, err := cache.ActivePermissionsForRole(context.Background(), roleSupervisor)
	require.NoError(t, err)
	assert.Equal(t, []string{"asistencia:read:all"}, got)
}

func TestCachedPermissionStore_Purge(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	inner := seededStore()
	inner.active[roleSupervisor] = []string{"asistencia:read:all"}
	counts := newCacheCounts()
	cache := NewCachedPermissionStore(inner, 16, time.Minute,
		WithSharedCache(NewRedisPermissionCache(client, "test:perms", time.Minute)),
		WithCacheRecorder(counts),
	)
	require.NoError(t, mr.Set("unrelated", "keep"))

	_, err := cache.ActivePermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:perms:active:2"))

	require.NoError(t, cache.Purge(ctx))

	assert.Equal(t, 0, cache.Len())
	assert.False(t, mr.Exists("test:perms:active:2"))
	assert.True(t, mr.Exists("unrelated"))
	assert.Equal(t, 1, counts.purges)

	// revocation is visible after a purge
	inner.active[roleSupervisor] = nil
	got, err := cache.ActivePermissionsForRole(ctx, roleSupervisor)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisPermissionCache_TTLAndCorruption(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	c := NewRedisPermissionCache(client, "p", 30*time.Second)

	require.NoError(t, c.Set(ctx, "active:1", []string{"a"}))
	assert.Equal(t, 30*time.Second, mr.TTL("p:active:1"))

	mr.FastForward(31 * time.Second)
	_, ok, err := c.Get(ctx, "active:1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("p:active:2", "{not json"))
	_, ok, err = c.Get(ctx, "active:2")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("p:active:2"))
}

func TestEngine_WithCachedPermissionStore(t *testing.T) {
	store := seededStore()
	store.active[roleSupervisor] = []string{"asistencia:approve"}
	cache := NewCachedPermissionStore(store, 16, time.Minute)
	engine := NewEngine(store, WithPermissionStore(cache))

	for i := 0; i < 5; i++ {
		c, err := engine.Resolve(context.Background(), &IdentityAssertion{ExternalSubjectID: "sub-super"})
		require.NoError(t, err)
		assert.True(t, c.Has("asistencia:approve"))
	}
	assert.Equal(t, 1, store.count("active"))
}
