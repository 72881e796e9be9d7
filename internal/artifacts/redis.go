package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "fluxpack:"

// RedisStore implements Store on Redis or a Redis-compatible server such as Dragonfly or Valkey.
// Objects expire after ttl; a zero ttl keeps them until evicted.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to url, in the form redis://[password@]host:port[/db]
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	log.Debug().Str("addr", opts.Addr).Dur("ttl", ttl).Msg("Redis layer cache initialized")
	return newRedisStore(client, ttl), nil
}

func newRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Name returns the provider name
func (s *RedisStore) Name() string {
	return "redis"
}

// Get returns the value stored under key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	return data, nil
}

// Put stores data under key, replacing any value and resetting its expiry
func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write to redis: %w", err)
	}
	return nil
}

// Exists reports whether key has a value
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query redis: %w", err)
	}
	return n > 0, nil
}

// Close releases the connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}
