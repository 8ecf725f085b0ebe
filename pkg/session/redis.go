package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "airlock:session:"

// RedisStore keeps session facts in a Redis hash per session, with a TTL
// refreshed on every write. Shared across gate replicas.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedis builds a client from address/password/db and verifies the
// connection before returning a store.
func DialRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client, ttl), nil
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Fact(ctx context.Context, sessionID, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, redisKey(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: hget: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Facts(ctx context.Context, sessionID string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, redisKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: hgetall: %w", err)
	}
	return m, nil
}

func (s *RedisStore) SetFact(ctx context.Context, sessionID, key, value string) error {
	k := redisKey(sessionID)
	if err := s.client.HSet(ctx, k, key, value).Err(); err != nil {
		return fmt.Errorf("session: hset: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
			return fmt.Errorf("session: expire: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) ClearFact(ctx context.Context, sessionID, key string) error {
	if err := s.client.HDel(ctx, redisKey(sessionID), key).Err(); err != nil {
		return fmt.Errorf("session: hdel: %w", err)
	}
	return nil
}
