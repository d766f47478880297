package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/timeleak/timeleakd/internal/storage"
)

type workStore struct {
	client *redis.Client
}

func (s *workStore) Get(ctx context.Context, slot string) (*storage.ScheduledWork, error) {
	data, err := s.client.Get(ctx, keyWorkPrefix+slot).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var work storage.ScheduledWork
	if err := json.Unmarshal(data, &work); err != nil {
		return nil, fmt.Errorf("unmarshal work %s: %w", slot, err)
	}
	return &work, nil
}

func (s *workStore) Replace(ctx context.Context, work storage.ScheduledWork) error {
	data, err := json.Marshal(work)
	if err != nil {
		return fmt.Errorf("marshal work %s: %w", work.Slot, err)
	}
	return s.client.Set(ctx, keyWorkPrefix+work.Slot, data, 0).Err()
}

func (s *workStore) Delete(ctx context.Context, slot string) error {
	return s.client.Del(ctx, keyWorkPrefix+slot).Err()
}
