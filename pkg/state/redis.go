// Package state provides persistent run-state storage for schedule entries.
// The dispatcher records when each entry last fired so that leadership
// handovers do not double-dispatch or lose track of interval alignment.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EntryState tracks the dispatch history of a single schedule entry.
type EntryState struct {
	Name            string    `json:"name"`
	Task            string    `json:"task,omitempty"`
	LastDispatch    time.Time `json:"last_dispatch"`
	TotalDispatches int64     `json:"total_dispatches"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RedisStateStore implements run-state storage using Redis.
type RedisStateStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateStore creates a state store with its own Redis connection.
func NewRedisStateStore(addr, password string, db int, keyPrefix string) *RedisStateStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStateStoreWithClient(client, keyPrefix)
}

// NewRedisStateStoreWithClient creates a state store with an existing client (for testing).
func NewRedisStateStoreWithClient(client *redis.Client, keyPrefix string) *RedisStateStore {
	if keyPrefix == "" {
		keyPrefix = "beat-fleet:"
	}
	return &RedisStateStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStateStore) entryKey(name string) string {
	return s.keyPrefix + "entry:" + name
}

func (s *RedisStateStore) entriesIndexKey() string {
	return s.keyPrefix + "entries:index"
}

// GetEntryState retrieves run-state for an entry. Returns nil when the entry
// has never been dispatched.
func (s *RedisStateStore) GetEntryState(ctx context.Context, name string) (*EntryState, error) {
	if name == "" {
		return nil, fmt.Errorf("entry name cannot be empty")
	}

	data, err := s.client.Get(ctx, s.entryKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry state: %w", err)
	}

	var state EntryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry state: %w", err)
	}

	return &state, nil
}

// SaveEntryState saves run-state for an entry atomically.
func (s *RedisStateStore) SaveEntryState(ctx context.Context, state *EntryState) error {
	if state == nil {
		return fmt.Errorf("entry state cannot be nil")
	}
	if state.Name == "" {
		return fmt.Errorf("entry name cannot be empty")
	}

	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal entry state: %w", err)
	}

	// TxPipeline wraps in MULTI/EXEC for atomic execution
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.entriesIndexKey(), state.Name)
	pipe.Set(ctx, s.entryKey(state.Name), data, 0)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save entry state: %w", err)
	}

	return nil
}

// RecordDispatch updates an entry's run-state after a successful dispatch.
func (s *RedisStateStore) RecordDispatch(ctx context.Context, name, task string, at time.Time) error {
	state, err := s.GetEntryState(ctx, name)
	if err != nil {
		return err
	}
	if state == nil {
		state = &EntryState{Name: name}
	}

	state.Task = task
	state.LastDispatch = at
	state.TotalDispatches++

	return s.SaveEntryState(ctx, state)
}

// DeleteEntryState removes run-state for an entry atomically. Used when a
// schedule entry is removed from the schedule file.
func (s *RedisStateStore) DeleteEntryState(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("entry name cannot be empty")
	}

	// TxPipeline wraps in MULTI/EXEC for atomic execution
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, s.entriesIndexKey(), name)
	pipe.Del(ctx, s.entryKey(name))

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete entry state: %w", err)
	}

	return nil
}

// ListEntries returns the names of all entries with recorded run-state.
func (s *RedisStateStore) ListEntries(ctx context.Context) ([]string, error) {
	entries, err := s.client.SMembers(ctx, s.entriesIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}

// Ping checks connectivity to Redis.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
