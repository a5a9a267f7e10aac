package cache

import (
	"context"
	"fmt"
	"log/slog"

	"idylle/internal/config"
)

// FromConfig builds the cache selected by cfg.Driver. The "none" driver
// returns a nil Cache and no error.
func FromConfig(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryCache(cfg.CleanupInterval), nil
	case "redis":
		c, err := NewRedisCache(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
