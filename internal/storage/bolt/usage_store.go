package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/timeleak/timeleakd/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

// Samples are keyed by last-time-used so window queries and day bucketing
// are a single range scan. Re-reporting the same package/instant replaces
// the previous sample.
func sampleKey(s storage.UsageSample) string {
	return timeKey(s.LastTimeUsed) + "/" + s.PackageName
}

// Events are keyed by timestamp plus a random suffix; collectors may report
// several transitions within the same millisecond.
func eventKey(e storage.UsageEvent) string {
	return timeKey(e.Timestamp) + "/" + storage.NewID()
}

func (s *usageStore) AddSamples(ctx context.Context, samples []storage.UsageSample) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSamples))
		if b == nil {
			return fmt.Errorf("samples bucket missing")
		}
		for _, sample := range samples {
			data, err := marshal(sample)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(sampleKey(sample)), data); err != nil {
				return fmt.Errorf("put sample %s: %w", sample.PackageName, err)
			}
		}
		return nil
	})
}

func (s *usageStore) AddEvents(ctx context.Context, events []storage.UsageEvent) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketEvents))
		if b == nil {
			return fmt.Errorf("events bucket missing")
		}
		for _, event := range events {
			data, err := marshal(event)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(eventKey(event)), data); err != nil {
				return fmt.Errorf("put event %s: %w", event.PackageName, err)
			}
		}
		return nil
	})
}

func (s *usageStore) QuerySamples(ctx context.Context, start, end time.Time) ([]storage.UsageSample, error) {
	var samples []storage.UsageSample
	err := s.scanRange(ctx, bucketSamples, start, end, func(v []byte) error {
		var sample storage.UsageSample
		if err := unmarshal(v, &sample); err != nil {
			return err
		}
		samples = append(samples, sample)
		return nil
	})
	return samples, err
}

func (s *usageStore) QueryEvents(ctx context.Context, start, end time.Time) ([]storage.UsageEvent, error) {
	var events []storage.UsageEvent
	err := s.scanRange(ctx, bucketEvents, start, end, func(v []byte) error {
		var event storage.UsageEvent
		if err := unmarshal(v, &event); err != nil {
			return err
		}
		events = append(events, event)
		return nil
	})
	return events, err
}

// scanRange visits values whose key prefix falls in [start, end). Keys sort
// by zero-padded unix millis, so the cursor walk is already chronological.
func (s *usageStore) scanRange(ctx context.Context, bucket string, start, end time.Time, visit func(v []byte) error) error {
	min := []byte(timeKey(start))
	max := []byte(timeKey(end))

	return s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		c := b.Cursor()
		for k, v := c.Seek(min); k != nil && bytes.Compare(k[:len(max)], max) < 0; k, v = c.Next() {
			if err := visit(v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *usageStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	max := []byte(timeKey(cutoff))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, bucket := range []string{bucketSamples, bucketEvents} {
			b := tx.Bucket([]byte(bucket))
			if b == nil {
				continue
			}
			c := b.Cursor()
			for k, _ := c.First(); k != nil && bytes.Compare(k[:len(max)], max) < 0; k, _ = c.Next() {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}
