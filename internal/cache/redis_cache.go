package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bizcore/backend/internal/domain"
)

type RedisProfitCache struct {
	client *redis.Client
}

func NewRedisProfitCache(addr string, password string, db int) *RedisProfitCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProfitCache{client: client}
}

func (c *RedisProfitCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProfitCache) Close() error {
	return c.client.Close()
}

func (c *RedisProfitCache) Get(ctx context.Context, key string) (*domain.PeriodProfit, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var profit domain.PeriodProfit
	if err := json.Unmarshal(val, &profit); err != nil {
		return nil, false, err
	}
	return &profit, true, nil
}

func (c *RedisProfitCache) Set(ctx context.Context, key string, value *domain.PeriodProfit, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// Invalidate drops every cached period preview. Used after writes that change
// sales or costs.
func (c *RedisProfitCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "profit:period:*", 100).Iterator()
	keys := make([]string, 0, 16)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
