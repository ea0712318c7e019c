package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Ensemble/internal/engine"
)

const defaultKeyPrefix = "ensemble:cache:"

// Redis — кэш в Redis. Значения хранятся в JSON.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis создаёт кэш поверх клиента.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
	}
}

// Connect создаёт клиента по адресу и проверяет соединение.
func Connect(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(client, ttl), nil
}

// Get возвращает значение по ключу.
func (r *Redis) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("decode cached value: %w", err)
	}
	return value, true, nil
}

// Set сохраняет значение. ttl <= 0 — TTL кэша по умолчанию.
func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}

	data, err := json.Marshal(engine.Normalize(value))
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}

	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close закрывает клиента.
func (r *Redis) Close() error {
	return r.client.Close()
}
