package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares claimed keys across instances with SET NX EX.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, scope string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return newRedisStore(client, scope, ttl), nil
}

func newRedisStore(client *redis.Client, scope string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: fmt.Sprintf("taskbridge:idem:%s:", scope),
		ttl:    ttl,
	}
}

// Claim sets the key only if absent. The expiry is enforced by redis, so now
// is unused.
func (s *RedisStore) Claim(ctx context.Context, key string, _ time.Time) (bool, error) {
	claimed, err := s.client.SetNX(ctx, s.prefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return claimed, nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
