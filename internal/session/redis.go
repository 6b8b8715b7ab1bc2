package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon/internal/config"
)

// RedisStore is the production Store backend. Values are written without
// expiry; concurrent-write consistency is the store's problem, not ours.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisStore(cfg config.SessionConfig, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	dialTimeout := cfg.DialTimeout.Std()
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: dialTimeout,
		}),
		log: log,
	}
}

func (s *RedisStore) Set(ctx context.Context, key, value string) bool {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		s.log.Warn("Session store set failed", "key", key, "err", err)
		return false
	}
	return true
}

func (s *RedisStore) Get(ctx context.Context, key string) string {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("Session store get failed", "key", key, "err", err)
		}
		return ""
	}
	return value
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
