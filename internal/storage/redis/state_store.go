package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/timeleak/timeleakd/internal/storage"
)

type stateStore struct {
	client *redis.Client
}

func (s *stateStore) GetString(ctx context.Context, key string) (string, error) {
	value, err := s.client.HGet(ctx, keyState, key).Result()
	if err == redis.Nil {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *stateStore) PutString(ctx context.Context, key, value string) error {
	return s.client.HSet(ctx, keyState, key, value).Err()
}

func (s *stateStore) GetInt64(ctx context.Context, key string) (int64, error) {
	value, err := s.GetString(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse state key %s: %w", key, err)
	}
	return n, nil
}

func (s *stateStore) PutInt64(ctx context.Context, key string, value int64) error {
	return s.PutString(ctx, key, strconv.FormatInt(value, 10))
}

func (s *stateStore) GetBool(ctx context.Context, key string) (bool, error) {
	value, err := s.GetString(ctx, key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse state key %s: %w", key, err)
	}
	return v, nil
}

func (s *stateStore) PutBool(ctx context.Context, key string, value bool) error {
	return s.PutString(ctx, key, strconv.FormatBool(value))
}

func (s *stateStore) Delete(ctx context.Context, key string) error {
	return s.client.HDel(ctx, keyState, key).Err()
}
