package persistence

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisResultStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisResultStore(client, "test:", time.Hour)
}

func stores(t *testing.T) map[string]ResultStore {
	_, rs := setupTestRedis(t)
	out := map[string]ResultStore{
		"memory": NewMemoryResultStore(time.Hour),
		"redis":  rs,
	}
	if ms := setupTestMongo(t); ms != nil {
		out["mongo"] = ms
	}
	return out
}

func TestResultStore_FirstWriteWins(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := fleet.TaskResult{TaskID: "t1", Success: true, AgentID: "a", ExecutionTime: time.Second}
			require.NoError(t, store.PutIfAbsent(ctx, first))

			second := fleet.TaskResult{TaskID: "t1", Success: false, AgentID: "b"}
			assert.ErrorIs(t, store.PutIfAbsent(ctx, second), ErrAlreadyExists)

			got, err := store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.True(t, got.Success)
			assert.Equal(t, "a", got.AgentID)
			assert.Equal(t, time.Second, got.ExecutionTime)

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, store.PutIfAbsent(ctx, fleet.TaskResult{}), ErrInvalidInput)

			require.NoError(t, store.Close())
			_, err = store.Get(ctx, "t1")
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestResultStore_ConcurrentPutsOneWinner(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := store.PutIfAbsent(context.Background(), fleet.TaskResult{TaskID: "race", AgentID: fmt.Sprintf("a%d", i)})
					if err == nil {
						wins.Add(1)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestMemoryResultStore_Retention(t *testing.T) {
	s := NewMemoryResultStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, fleet.TaskResult{TaskID: "old"}))
	now = now.Add(2 * time.Minute)

	_, err := s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutIfAbsent(ctx, fleet.TaskResult{TaskID: "new"}))
	assert.Equal(t, 1, s.Len(), "expired entries are evicted on write")
}

func TestRedisResultStore_TTL(t *testing.T) {
	mr, s := setupTestRedis(t)
	require.NoError(t, s.PutIfAbsent(context.Background(), fleet.TaskResult{TaskID: "t"}))
	assert.Equal(t, time.Hour, mr.TTL("test:result:t"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(context.Background(), "t")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Ping(context.Background()))
}

// setupTestMongo 在设置 AGENTFLEET_TEST_MONGO_URI 时连接真实 MongoDB，
// 每个测试使用独立集合；未设置时返回 nil
func setupTestMongo(t *testing.T) *MongoResultStore {
	t.Helper()
	uri := os.Getenv("AGENTFLEET_TEST_MONGO_URI")
	if uri == "" {
		return nil
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	coll := client.Database("agentfleet_test").Collection(fmt.Sprintf("results_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coll.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	s := NewMongoResultStore(coll, time.Hour)
	require.NoError(t, s.EnsureIndexes(context.Background()))
	return s
}

func TestMongoResultStore_Expiry(t *testing.T) {
	s := setupTestMongo(t)
	if s == nil {
		t.Skip("AGENTFLEET_TEST_MONGO_URI not set, skipping integration test")
	}
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, fleet.TaskResult{TaskID: "t", AgentID: "a", Success: true}))
	got, err := s.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "a", got.AgentID)

	// TTL 后台清理之前的过期文档同样不可读
	now = now.Add(2 * time.Hour)
	_, err = s.Get(ctx, "t")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Ping(ctx))

	// 索引重复创建是幂等的
	assert.NoError(t, s.EnsureIndexes(ctx))
}

func TestMongoResultStore_RejectsBeforeReachingServer(t *testing.T) {
	// 参数与关闭状态的检查不访问集合
	s := NewMongoResultStore(nil, 0)
	assert.Equal(t, DefaultRetention, s.retention)

	assert.ErrorIs(t, s.PutIfAbsent(context.Background(), fleet.TaskResult{}), ErrInvalidInput)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.PutIfAbsent(context.Background(), fleet.TaskResult{TaskID: "t"}), ErrStoreClosed)
	_, err := s.Get(context.Background(), "t")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
