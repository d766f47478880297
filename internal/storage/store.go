package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	State() StateStore
	Work() WorkStore
}

// UsageStore holds raw usage data reported by device collectors: coarse
// per-package interval stats and fine-grained foreground/background
// transition events. Both are queried by time window during aggregation.
type UsageStore interface {
	AddSamples(ctx context.Context, samples []UsageSample) error
	AddEvents(ctx context.Context, events []UsageEvent) error
	// QuerySamples returns samples with LastTimeUsed in [start, end).
	QuerySamples(ctx context.Context, start, end time.Time) ([]UsageSample, error)
	// QueryEvents returns events with Timestamp in [start, end) in
	// chronological order.
	QueryEvents(ctx context.Context, start, end time.Time) ([]UsageEvent, error)
	// DeleteBefore removes samples and events older than cutoff and
	// returns the number of records deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StateStore is small process-durable key-value state: last-run timestamp,
// goal, baseline, cached identity. Single writer per key by construction.
type StateStore interface {
	GetString(ctx context.Context, key string) (string, error)
	PutString(ctx context.Context, key, value string) error
	GetInt64(ctx context.Context, key string) (int64, error)
	PutInt64(ctx context.Context, key string, value int64) error
	GetBool(ctx context.Context, key string) (bool, error)
	PutBool(ctx context.Context, key string, value bool) error
	Delete(ctx context.Context, key string) error
}

// WorkStore persists scheduled sync work so the schedule survives process
// restarts. At most one work item exists per slot: Replace overwrites any
// previous item for the same slot.
type WorkStore interface {
	Get(ctx context.Context, slot string) (*ScheduledWork, error)
	Replace(ctx context.Context, work ScheduledWork) error
	Delete(ctx context.Context, slot string) error
}
