package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "backoffice:principal_roles:"

// RedisRoleCache shares resolved roles between API replicas. Redis errors are
// logged and treated as misses so authorization falls back to the database.
type RedisRoleCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedisRoleCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisRoleCache {
	return &RedisRoleCache{client: client, ttl: ttl, log: log.With().Str("component", "role_cache").Logger()}
}

// NewRedisClient parses a redis:// URL
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func key(userID uuid.UUID) string {
	return redisKeyPrefix + userID.String()
}

func (c *RedisRoleCache) Get(ctx context.Context, userID uuid.UUID) ([]string, bool) {
	raw, err := c.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Msg("role cache read failed")
		}
		return nil, false
	}

	var roles []string
	if err := json.Unmarshal(raw, &roles); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID.String()).Msg("corrupt role cache entry")
		return nil, false
	}
	return roles, true
}

func (c *RedisRoleCache) Set(ctx context.Context, userID uuid.UUID, roles []string) {
	raw, err := json.Marshal(roles)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(userID), raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("role cache write failed")
	}
}

func (c *RedisRoleCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		c.log.Warn().Err(err).Msg("role cache invalidation failed")
	}
}

func (c *RedisRoleCache) Purge(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.Warn().Err(err).Msg("role cache purge failed")
			return
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Err(err).Msg("role cache scan failed")
	}
}
