package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rsvp/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisOffsetRepository stores consumer offsets in Redis so feed
// consumers survive process restarts.
type RedisOffsetRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisOffsetRepository(client *redis.Client, ttl time.Duration) *RedisOffsetRepository {
	return &RedisOffsetRepository{client: client, ttl: ttl}
}

func offsetKey(consumer string) string {
	return fmt.Sprintf("feed_offset:%s", consumer)
}

func (r *RedisOffsetRepository) GetOffset(ctx context.Context, consumer string) (int64, bool, error) {
	if r.client == nil {
		return 0, false, fmt.Errorf("redis client is nil")
	}

	val, err := r.client.Get(ctx, offsetKey(consumer)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get offset from redis: %w", err)
	}

	seq, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse offset %q: %w", val, err)
	}
	return seq, true, nil
}

func (r *RedisOffsetRepository) SetOffset(ctx context.Context, consumer string, seq int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := offsetKey(consumer)

	// Forward-only, same rule as the memory repository.
	current, ok, err := r.GetOffset(ctx, consumer)
	if err == nil && ok && current > seq {
		return nil
	}

	if err := r.client.Set(ctx, key, strconv.FormatInt(seq, 10), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set offset in redis: %w", err)
	}
	return nil
}

func (r *RedisOffsetRepository) ClearOffset(ctx context.Context, consumer string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, offsetKey(consumer)).Err(); err != nil {
		return fmt.Errorf("failed to clear offset in redis: %w", err)
	}
	return nil
}
