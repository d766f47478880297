package bolt

import (
	"context"
	"fmt"

	"github.com/timeleak/timeleakd/internal/storage"
	"go.etcd.io/bbolt"
)

type workStore struct {
	db *bbolt.DB
}

func (s *workStore) Get(ctx context.Context, slot string) (*storage.ScheduledWork, error) {
	var work storage.ScheduledWork
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketWork))
		if b == nil {
			return fmt.Errorf("work bucket missing")
		}
		data := b.Get([]byte(slot))
		if data == nil {
			return storage.ErrNotFound
		}
		return unmarshal(data, &work)
	})
	if err != nil {
		return nil, err
	}
	return &work, nil
}

func (s *workStore) Replace(ctx context.Context, work storage.ScheduledWork) error {
	data, err := marshal(work)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketWork))
		if b == nil {
			return fmt.Errorf("work bucket missing")
		}
		return b.Put([]byte(work.Slot), data)
	})
}

func (s *workStore) Delete(ctx context.Context, slot string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketWork))
		if b == nil {
			return fmt.Errorf("work bucket missing")
		}
		return b.Delete([]byte(slot))
	})
}
