package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timeleak/timeleakd/internal/config"
	"github.com/timeleak/timeleakd/internal/storage"
)

// Key layout:
//
//	timeleak:sample:<ms>/<pkg>   JSON sample, indexed in timeleak:samples:index
//	timeleak:event:<ms>/<id>     JSON event, indexed in timeleak:events:index
//	timeleak:state               hash of state keys
//	timeleak:work:<slot>         JSON scheduled work
const (
	keyState        = "timeleak:state"
	keySamplePrefix = "timeleak:sample:"
	keyEventPrefix  = "timeleak:event:"
	keySampleIndex  = "timeleak:samples:index"
	keyEventIndex   = "timeleak:events:index"
	keyWorkPrefix   = "timeleak:work:"
)

// Store implements the storage.Store interface using Redis.
type Store struct {
	client     *redis.Client
	usageStore *usageStore
	stateStore *stateStore
	workStore  *workStore
}

// Open creates a new Redis-backed storage instance.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:     client,
		usageStore: &usageStore{client: client},
		stateStore: &stateStore{client: client},
		workStore:  &workStore{client: client},
	}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation.
func (s *Store) Usage() storage.UsageStore { return s.usageStore }

// State returns the StateStore implementation.
func (s *Store) State() storage.StateStore { return s.stateStore }

// Work returns the WorkStore implementation.
func (s *Store) Work() storage.WorkStore { return s.workStore }
