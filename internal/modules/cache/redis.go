package cache

import (
	"context"
	"time"

	"updown_bot/internal/modules/config"
	"updown_bot/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store. With no address configured the client stays nil
// and every read misses, so the rest of the system degrades gracefully.
type Redis struct {
	client *redis.Client
}

func NewRedis(cfg *config.Config) *Redis {
	if cfg.Redis.Addr == "" {
		logger.Warn("redis address not configured, cache disabled")
		return &Redis{}
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	if r == nil || r.client == nil {
		return "", false
	}
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		logger.Error("redis get %s: %v", key, err)
		return "", false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if r == nil || r.client == nil {
		return
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logger.Error("redis set %s: %v", key, err)
	}
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
