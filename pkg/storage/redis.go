package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 5 * time.Second

// RedisStore keeps values in Redis so several server instances can share
// credentials. Keys are namespaced by origin and expire after DefaultTTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a store on client. A nil client yields a store that
// discards writes.
func NewRedisStore(client redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "authkit:" + OriginKey(opts.Origin) + ":",
		logger: opts.logger(),
	}
}

func (s *RedisStore) Get(key string) (string, bool) {
	if s.client == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("Failed to read redis key", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (s *RedisStore) Set(key, value string) {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, value, DefaultTTL).Err(); err != nil {
		s.logger.Warn("Failed to write redis key", "key", key, "error", err)
	}
}

func (s *RedisStore) Remove(key string) {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		s.logger.Warn("Failed to delete redis key", "key", key, "error", err)
	}
}
