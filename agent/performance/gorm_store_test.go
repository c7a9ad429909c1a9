package performance

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

func setupTestDB(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewGormStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestGormStore_Upsert(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	used := time.Now().UTC().Truncate(time.Millisecond)

	stat := fleet.PerformanceStat{
		AgentID: "a", CapabilityID: "translate",
		TotalTasks: 1, SuccessfulTasks: 1, SuccessRate: 1,
		AvgResponseTime: 2 * time.Second, LastUsed: used,
	}
	require.NoError(t, store.Save(ctx, stat))

	stat.TotalTasks = 2
	stat.FailedTasks = 1
	stat.SuccessRate = 0.5
	stat.AvgResponseTime = 3 * time.Second
	require.NoError(t, store.Save(ctx, stat))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, int64(2), got.TotalTasks)
	assert.Equal(t, 0.5, got.SuccessRate)
	assert.Equal(t, 3*time.Second, got.AvgResponseTime)
	assert.WithinDuration(t, used, got.LastUsed, time.Millisecond)
}

func TestGormStore_DeleteAgent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for _, s := range []fleet.PerformanceStat{
		{AgentID: "a", CapabilityID: "x"},
		{AgentID: "a", CapabilityID: "y"},
		{AgentID: "b", CapabilityID: "x"},
	} {
		require.NoError(t, store.Save(ctx, s))
	}
	require.NoError(t, store.DeleteAgent(ctx, "a"))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].AgentID)
}

func TestGormStore_Closed(t *testing.T) {
	store := setupTestDB(t)
	require.NoError(t, store.Close())
	_, err := store.LoadAll(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
}
