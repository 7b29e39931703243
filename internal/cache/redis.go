package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "qerrors:advice:"

// RedisStore keeps advice in Redis so multiple instances share one
// cache. Expiry is native (SET with EX), so PurgeExpired is a no-op and
// the LRU entry cap does not apply; Redis memory policy governs size.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url string, ttl time.Duration, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		log: log.With("component", "advice_cache_redis"),
	}, nil
}

func adviceKey(fingerprint string) string {
	return redisKeyPrefix + fingerprint
}

// Get returns the advice stored for a fingerprint.
func (s *RedisStore) Get(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, adviceKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores advice under a fingerprint with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, fingerprint string, advice []byte) error {
	if err := s.rdb.Set(ctx, adviceKey(fingerprint), advice, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires keys itself.
func (s *RedisStore) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

// Clear deletes every advice key under the library's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Len counts advice keys under the library's prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
