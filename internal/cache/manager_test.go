package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/performance"
	"github.com/BaSui01/agentfleet/config"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	m, err := NewManager(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(config.RedisConfig{Addr: "redis:6380", DB: 2, PoolSize: 32})
	assert.Equal(t, "redis:6380", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.Equal(t, 32, c.PoolSize)
	assert.Equal(t, DefaultConfig().MinIdleConns, c.MinIdleConns)

	c = ConfigFrom(config.RedisConfig{})
	assert.Equal(t, "localhost:6379", c.Addr)
}

func TestManager_PingAndStats(t *testing.T) {
	_, m := setupTestRedis(t)

	require.NoError(t, m.Ping(context.Background()))
	s := m.Stats()
	assert.GreaterOrEqual(t, s.TotalConns, uint32(1))
}

func TestManager_SharedClientBacksStores(t *testing.T) {
	mr, m := setupTestRedis(t)
	ctx := context.Background()

	store := performance.NewRedisStore(m.Client(), "agentfleet:")
	require.NoError(t, store.Save(ctx, fleet.PerformanceStat{
		AgentID:      "a",
		CapabilityID: "ocr",
		TotalTasks:   1,
		SuccessRate:  1,
		LastUsed:     time.Now(),
	}))
	// 关闭存储不关闭共享连接
	require.NoError(t, store.Close())
	require.NoError(t, m.Ping(ctx))

	keys := mr.Keys()
	assert.NotEmpty(t, keys)
	for _, k := range keys {
		assert.Contains(t, k, "agentfleet:stats:")
	}
}

func TestManager_Close(t *testing.T) {
	_, m := setupTestRedis(t)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Error(t, m.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.MaxRetries = 0
	cfg.DialTimeout = 500 * time.Millisecond
	_, err := NewManager(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestManager_HealthCheckLoopStops(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 10 * time.Millisecond

	m, err := NewManager(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Close())
}
