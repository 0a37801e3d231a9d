package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/codeKobby/Nuel-s-foodzone-sub000/internal/domain"
)

const statsKeyPrefix = "foodzone:stats:"

type RedisStatsCache struct {
	client *redis.Client
}

func NewRedisStatsCache(client *redis.Client) *RedisStatsCache {
	return &RedisStatsCache{client: client}
}

// NewRedisClient builds the client shared by the stats cache and the change bus.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (c *RedisStatsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStatsCache) Get(ctx context.Context, period string) (*domain.PeriodStats, bool, error) {
	val, err := c.client.Get(ctx, statsKeyPrefix+period).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stats domain.PeriodStats
	if err := json.Unmarshal([]byte(val), &stats); err != nil {
		return nil, false, err
	}
	return &stats, true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, period string, value *domain.PeriodStats, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statsKeyPrefix+period, payload, ttl).Err()
}

func (c *RedisStatsCache) Invalidate(ctx context.Context, periods ...string) error {
	if len(periods) == 0 {
		return nil
	}
	keys := make([]string, 0, len(periods))
	for _, period := range periods {
		keys = append(keys, statsKeyPrefix+period)
	}
	return c.client.Del(ctx, keys...).Err()
}
