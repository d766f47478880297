package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timeleak/timeleakd/internal/storage"
)

type usageStore struct {
	client *redis.Client
}

func (s *usageStore) AddSamples(ctx context.Context, samples []storage.UsageSample) error {
	pipe := s.client.TxPipeline()
	for _, sample := range samples {
		member := fmt.Sprintf("%d/%s", sample.LastTimeUsed.UnixMilli(), sample.PackageName)
		data, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("marshal sample %s: %w", sample.PackageName, err)
		}
		pipe.Set(ctx, keySamplePrefix+member, data, 0)
		pipe.ZAdd(ctx, keySampleIndex, redis.Z{
			Score:  float64(sample.LastTimeUsed.UnixMilli()),
			Member: member,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *usageStore) AddEvents(ctx context.Context, events []storage.UsageEvent) error {
	pipe := s.client.TxPipeline()
	for _, event := range events {
		member := fmt.Sprintf("%d/%s", event.Timestamp.UnixMilli(), storage.NewID())
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", event.PackageName, err)
		}
		pipe.Set(ctx, keyEventPrefix+member, data, 0)
		pipe.ZAdd(ctx, keyEventIndex, redis.Z{
			Score:  float64(event.Timestamp.UnixMilli()),
			Member: member,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *usageStore) QuerySamples(ctx context.Context, start, end time.Time) ([]storage.UsageSample, error) {
	members, err := s.rangeMembers(ctx, keySampleIndex, start, end)
	if err != nil {
		return nil, err
	}
	samples := make([]storage.UsageSample, 0, len(members))
	for _, member := range members {
		var sample storage.UsageSample
		if err := s.getJSON(ctx, keySamplePrefix+member, &sample); err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *usageStore) QueryEvents(ctx context.Context, start, end time.Time) ([]storage.UsageEvent, error) {
	members, err := s.rangeMembers(ctx, keyEventIndex, start, end)
	if err != nil {
		return nil, err
	}
	events := make([]storage.UsageEvent, 0, len(members))
	for _, member := range members {
		var event storage.UsageEvent
		if err := s.getJSON(ctx, keyEventPrefix+member, &event); err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// rangeMembers returns index members scored in [start, end). ZRANGEBYSCORE
// returns members in score order, which keeps events chronological.
func (s *usageStore) rangeMembers(ctx context.Context, index string, start, end time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
}

func (s *usageStore) getJSON(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *usageStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	max := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)

	for index, prefix := range map[string]string{
		keySampleIndex: keySamplePrefix,
		keyEventIndex:  keyEventPrefix,
	} {
		members, err := s.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
		if err != nil {
			return deleted, err
		}
		if len(members) == 0 {
			continue
		}
		pipe := s.client.TxPipeline()
		for _, member := range members {
			pipe.Del(ctx, prefix+member)
			pipe.ZRem(ctx, index, member)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted += len(members)
	}
	return deleted, nil
}
