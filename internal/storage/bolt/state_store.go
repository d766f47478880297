package bolt

import (
	"context"
	"fmt"
	"strconv"

	"github.com/timeleak/timeleakd/internal/storage"
	"go.etcd.io/bbolt"
)

type stateStore struct {
	db *bbolt.DB
}

func (s *stateStore) GetString(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketState))
		if b == nil {
			return fmt.Errorf("state bucket missing")
		}
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		value = string(data)
		return nil
	})
	return value, err
}

func (s *stateStore) PutString(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketState))
		if b == nil {
			return fmt.Errorf("state bucket missing")
		}
		return b.Put([]byte(key), []byte(value))
	})
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
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketState))
		if b == nil {
			return fmt.Errorf("state bucket missing")
		}
		return b.Delete([]byte(key))
	})
}
