package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseRoleCache(t *testing.T, c RoleCache) {
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, ok := c.Get(ctx, alice)
	assert.False(t, ok)

	c.Set(ctx, alice, []string{"admin", "poster"})
	c.Set(ctx, bob, []string{"user"})

	roles, ok := c.Get(ctx, alice)
	require.True(t, ok)
	assert.Equal(t, []string{"admin", "poster"}, roles)

	c.Invalidate(ctx, alice)
	_, ok = c.Get(ctx, alice)
	assert.False(t, ok)

	roles, ok = c.Get(ctx, bob)
	require.True(t, ok)
	assert.Equal(t, []string{"user"}, roles)

	c.Purge(ctx)
	_, ok = c.Get(ctx, bob)
	assert.False(t, ok)
}

func TestLRURoleCache(t *testing.T) {
	exerciseRoleCache(t, NewLRURoleCache(64, time.Minute))
}

func TestLRURoleCacheCopiesSlices(t *testing.T) {
	ctx := context.Background()
	c := NewLRURoleCache(64, time.Minute)
	id := uuid.New()

	in := []string{"poster"}
	c.Set(ctx, id, in)
	in[0] = "admin"

	roles, _ := c.Get(ctx, id)
	assert.Equal(t, []string{"poster"}, roles)
}

func TestLRURoleCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewLRURoleCache(64, 20*time.Millisecond)
	id := uuid.New()

	c.Set(ctx, id, []string{"user"})
	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, id)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRedisRoleCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseRoleCache(t, NewRedisRoleCache(client, time.Minute, zerolog.Nop()))
}

func TestRedisRoleCacheTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisRoleCache(client, time.Minute, zerolog.Nop())
	id := uuid.New()
	c.Set(context.Background(), id, []string{"poster"})

	assert.Equal(t, time.Minute, mr.TTL(key(id)))
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(context.Background(), id)
	assert.False(t, ok)
}

func TestRedisRoleCacheDegradesWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisRoleCache(client, time.Minute, zerolog.Nop())
	mr.Close()

	c.Set(context.Background(), uuid.New(), []string{"user"})
	_, ok := c.Get(context.Background(), uuid.New())
	assert.False(t, ok)
}
