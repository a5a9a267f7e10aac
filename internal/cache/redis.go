package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 2 * time.Second

// RedisCache is a Redis-backed implementation of Cache. Values are stored
// as JSON, so a Get returns the decoded form (maps, slices, float64).
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	stats  counters
}

// RedisOptions holds Redis connection configuration.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; Clear only removes prefixed keys.
	Prefix string
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	c := newRedisCache(client, opts.Prefix, logger)
	c.logger.InfoContext(ctx, "connected to Redis cache",
		slog.String("addr", opts.Addr),
		slog.Int("db", opts.DB))
	return c, nil
}

func newRedisCache(client *redis.Client, prefix string, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger.With(slog.String("component", "redis_cache")),
	}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (any, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.stats.misses.Add(1)
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "redis get failed", slog.String("key", key), slog.String("error", err.Error()))
		c.stats.misses.Add(1)
		return nil, false
	}

	var result any
	if err := json.Unmarshal(val, &result); err != nil {
		c.logger.WarnContext(ctx, "json unmarshal failed", slog.String("key", key), slog.String("error", err.Error()))
		c.stats.misses.Add(1)
		return nil, false
	}

	c.stats.hits.Add(1)
	return result, true
}

// Set stores a value in Redis with TTL. A zero TTL never expires.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WarnContext(ctx, "json marshal failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "redis set failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	c.stats.sets.Add(1)
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.logger.WarnContext(ctx, "redis delete failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Clear removes every key. With a prefix only prefixed keys are removed,
// otherwise the current database is flushed.
func (c *RedisCache) Clear(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if c.prefix == "" {
		if err := c.client.FlushDB(ctx).Err(); err != nil {
			c.logger.WarnContext(ctx, "redis flush failed", slog.String("error", err.Error()))
		}
		return
	}

	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.WarnContext(ctx, "redis delete failed", slog.String("key", iter.Val()), slog.String("error", err.Error()))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "redis scan failed", slog.String("error", err.Error()))
	}
}

// Stats returns cache statistics.
func (c *RedisCache) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	size, err := c.client.DBSize(ctx).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "redis dbsize failed", slog.String("error", err.Error()))
		size = 0
	}
	return c.stats.snapshot(int(size))
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// HealthCheck checks if Redis is available.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
