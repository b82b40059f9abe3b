package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "idem"

// NewClient returns a redis client for addr and checks it responds.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Msg("redis idempotency store connected")
	return rdb, nil
}

// RedisStore remembers which resource a client supplied key produced, so a
// retried request returns the original result instead of repeating the work.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisStore creates a store whose entries expire after ttl.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Key builds the redis key for a scope, typically the calling user, and the
// client supplied idempotency key.
func Key(scope, key string) string {
	return fmt.Sprintf("%s:order:create:%s:%s", keyPrefix, scope, key)
}

// Lookup returns the remembered resource ID, if any.
func (s *RedisStore) Lookup(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, Key(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return val, true, nil
}

// Remember stores resourceID under the key unless an entry already exists.
func (s *RedisStore) Remember(ctx context.Context, scope, key, resourceID string) error {
	if err := s.rdb.SetNX(ctx, Key(scope, key), resourceID, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency remember: %w", err)
	}
	return nil
}
