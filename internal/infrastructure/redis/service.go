package redis

import (
	"context"
	"strings"
	"time"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type Service struct {
	client *redis.Client
}

// NewService connects to REDIS_URL. It returns nil when Redis is not
// configured or does not answer a ping, and callers fall back to memory.
func NewService() *Service {
	l := logger.For(logger.REDIS)
	url := config.GetRedisURL()

	if url == "" {
		l.Warn().Msg("Redis URL not configured - service will be unavailable")
		return nil
	}

	opts := &redis.Options{
		Addr:     url,
		Password: config.GetRedisPassword(),
		DB:       0,
	}
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			l.Error().Err(err).Msg("Invalid Redis URL")
			return nil
		}
		if parsed.Password == "" {
			parsed.Password = opts.Password
		}
		opts = parsed
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		l.Error().
			Err(err).
			Str("addr", opts.Addr).
			Msg("Failed to establish Redis connection")
		_ = client.Close()
		return nil
	}

	return NewServiceWithClient(client)
}

// NewServiceWithClient wraps an existing client
func NewServiceWithClient(client *redis.Client) *Service {
	return &Service{client: client}
}

// Set stores a value in Redis with an optional expiration
func (s *Service) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := s.client.Set(ctx, key, value, expiration).Err(); err != nil {
		logger.For(logger.REDIS).Error().
			Err(err).
			Str("key", key).
			Dur("expiration", expiration).
			Msg("Redis SET operation failed")
		return err
	}
	return nil
}

// Get retrieves a value from Redis. A missing key is an empty string and
// no error.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		logger.For(logger.REDIS).Error().
			Err(err).
			Str("key", key).
			Msg("Redis GET operation failed")
		return "", err
	}
	return val, nil
}

// AppendCapped pushes values onto the list at key, keeps only the newest
// max entries and refreshes the key's expiry, in one round trip.
func (s *Service) AppendCapped(ctx context.Context, key string, max int64, ttl time.Duration, values ...interface{}) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -max, -1)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		logger.For(logger.REDIS).Error().
			Err(err).
			Str("key", key).
			Msg("Redis list append failed")
	}
	return err
}

// Range returns the whole list stored at key
func (s *Service) Range(ctx context.Context, key string) ([]string, error) {
	return s.client.LRange(ctx, key, 0, -1).Result()
}

// Delete removes a key from Redis
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Ping checks if Redis is accessible
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Service) Close() error {
	return s.client.Close()
}
