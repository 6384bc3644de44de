// Package cache keeps each contract's open comment list in Redis so list
// requests skip the database until a write invalidates the entry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clausemark/api/internal/comments"
)

const defaultTTL = 10 * time.Minute

// RedisStore caches comment lists by contract id.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: "comments:", ttl: ttl}
}

func (s *RedisStore) key(contractID string) string {
	return s.prefix + contractID
}

// Comments returns the cached list. ok is false on a miss.
func (s *RedisStore) Comments(ctx context.Context, contractID string) ([]comments.Comment, bool, error) {
	raw, err := s.client.Get(ctx, s.key(contractID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read comment cache: %w", err)
	}
	var items []comments.Comment
	if err := json.Unmarshal(raw, &items); err != nil {
		_ = s.client.Del(ctx, s.key(contractID)).Err()
		return nil, false, fmt.Errorf("decode comment cache: %w", err)
	}
	return items, true, nil
}

func (s *RedisStore) SetComments(ctx context.Context, contractID string, items []comments.Comment) error {
	if items == nil {
		items = []comments.Comment{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode comment cache: %w", err)
	}
	if err := s.client.Set(ctx, s.key(contractID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("write comment cache: %w", err)
	}
	return nil
}

// Invalidate drops a contract's cached list after any write.
func (s *RedisStore) Invalidate(ctx context.Context, contractID string) error {
	if err := s.client.Del(ctx, s.key(contractID)).Err(); err != nil {
		return fmt.Errorf("invalidate comment cache: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
