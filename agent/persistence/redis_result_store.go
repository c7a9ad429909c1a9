package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// RedisResultStore keeps each result under its own key, written with SET NX
// so concurrent completions across replicas still resolve to one winner.
type RedisResultStore struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
	closed    atomic.Bool
}

// NewRedisResultStore wraps an existing client. The client is not closed by
// Close.
func NewRedisResultStore(client redis.UniversalClient, keyPrefix string, retention time.Duration) *RedisResultStore {
	if keyPrefix == "" {
		keyPrefix = "agentfleet:"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisResultStore{
		client:    client,
		keyPrefix: keyPrefix + "result:",
		retention: retention,
	}
}

// resultKey returns the Redis key for a task's result
func (s *RedisResultStore) resultKey(taskID string) string {
	return s.keyPrefix + taskID
}

func (s *RedisResultStore) PutIfAbsent(ctx context.Context, result fleet.TaskResult) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if result.TaskID == "" {
		return ErrInvalidInput
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.resultKey(result.TaskID), data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisResultStore) Get(ctx context.Context, taskID string) (fleet.TaskResult, error) {
	if s.closed.Load() {
		return fleet.TaskResult{}, ErrStoreClosed
	}
	data, err := s.client.Get(ctx, s.resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fleet.TaskResult{}, ErrNotFound
	}
	if err != nil {
		return fleet.TaskResult{}, fmt.Errorf("failed to get result: %w", err)
	}

	var result fleet.TaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fleet.TaskResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return result, nil
}

// Ping checks if the store is healthy
func (s *RedisResultStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisResultStore) Close() error {
	s.closed.Store(true)
	return nil
}

var _ ResultStore = (*RedisResultStore)(nil)
