package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "neuroface:preview:"

// RedisStore keeps previews in Redis hashes that expire after ttl
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(handle string) string {
	return redisKeyPrefix + handle
}

func (s *RedisStore) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	handle := newHandle()
	key := redisKey(handle)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "mime", mimeType, "data", data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis put: %w", err)
	}
	return handle, nil
}

func (s *RedisStore) Get(ctx context.Context, handle string) (*Preview, error) {
	if !validHandle(handle) {
		return nil, ErrPreviewNotFound
	}

	values, err := s.client.HGetAll(ctx, redisKey(handle)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPreviewNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	data, ok := values["data"]
	if !ok {
		return nil, ErrPreviewNotFound
	}
	return &Preview{Data: []byte(data), MIMEType: values["mime"]}, nil
}

func (s *RedisStore) Delete(ctx context.Context, handle string) error {
	if !validHandle(handle) {
		return nil
	}
	if err := s.client.Del(ctx, redisKey(handle)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
