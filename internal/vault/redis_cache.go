// ABOUTME: Redis-backed credential cache shared across gateway replicas
// ABOUTME: A per-name index set lets invalidation drop every cached version

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries as JSON strings under prefix+key, with a set at
// prefix+"idx:"+name listing the keys cached for that name.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisCache wraps an existing client. Close closes the client.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: slog.Default().With("component", "vault.redis_cache"),
	}
}

// DialRedisCache connects to addr and verifies the connection.
func DialRedisCache(ctx context.Context, addr, prefix string) (*RedisCache, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisCache(client, prefix), nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*KeyVaultSecret, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var s KeyVaultSecret
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		c.client.Del(ctx, c.prefix+key)
		return nil, false
	}
	return &s, true
}

// Set is best effort; a failed write only costs a later provider call.
func (c *RedisCache) Set(ctx context.Context, key string, secret *KeyVaultSecret, ttl time.Duration) {
	data, err := json.Marshal(secret)
	if err != nil {
		return
	}

	idx := c.indexKey(secret.Name)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.prefix+key, data, ttl)
		pipe.SAdd(ctx, idx, key)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, name string) {
	idx := c.indexKey(name)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("cache index read failed", "name", name, "error", err)
	}

	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, c.prefix+k)
	}
	del = append(del, idx)
	if err := c.client.Del(ctx, del...).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", "name", name, "error", err)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) indexKey(name string) string {
	return c.prefix + "idx:" + name
}
