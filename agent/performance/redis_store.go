package performance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// RedisStore keeps one hash per agent (field = capability id, value = JSON)
// plus a set indexing the agents that have entries.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	closed    atomic.Bool
}

// NewRedisStore wraps an existing client. The client is not closed by Close.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "agentfleet:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "stats:"}
}

func (s *RedisStore) agentKey(agentID string) string {
	return s.keyPrefix + "agent:" + agentID
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "agents"
}

func (s *RedisStore) Save(ctx context.Context, stat fleet.PerformanceStat) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("failed to marshal stat: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.agentKey(stat.AgentID), stat.CapabilityID, data)
	pipe.SAdd(ctx, s.indexKey(), stat.AgentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save stat: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadAll(ctx context.Context) ([]fleet.PerformanceStat, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	agents, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	if len(agents) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(agents))
	for i, id := range agents {
		cmds[i] = pipe.HGetAll(ctx, s.agentKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	var out []fleet.PerformanceStat
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			var stat fleet.PerformanceStat
			if err := json.Unmarshal([]byte(raw), &stat); err != nil {
				return nil, fmt.Errorf("failed to unmarshal stat: %w", err)
			}
			out = append(out, stat)
		}
	}
	return out, nil
}

func (s *RedisStore) DeleteAgent(ctx context.Context, agentID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.agentKey(agentID))
	pipe.SRem(ctx, s.indexKey(), agentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete stats: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	s.closed.Store(true)
	return nil
}

var _ Store = (*RedisStore)(nil)
