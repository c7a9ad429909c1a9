package performance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// StatRow is the SQL representation of a PerformanceStat.
type StatRow struct {
	AgentID           string    `gorm:"primaryKey;size:128"`
	CapabilityID      string    `gorm:"primaryKey;size:128"`
	TotalTasks        int64     `gorm:"not null;default:0"`
	SuccessfulTasks   int64     `gorm:"not null;default:0"`
	FailedTasks       int64     `gorm:"not null;default:0"`
	SuccessRate       float64   `gorm:"not null;default:0"`
	AvgResponseTimeMs float64   `gorm:"column:avg_response_time_ms;not null;default:0"`
	LastUsed          time.Time `gorm:"index"`
	UpdatedAt         time.Time
}

// TableName implements gorm's tabler.
func (StatRow) TableName() string { return "performance_stats" }

func rowFromStat(s fleet.PerformanceStat) StatRow {
	return StatRow{
		AgentID:           s.AgentID,
		CapabilityID:      s.CapabilityID,
		TotalTasks:        s.TotalTasks,
		SuccessfulTasks:   s.SuccessfulTasks,
		FailedTasks:       s.FailedTasks,
		SuccessRate:       s.SuccessRate,
		AvgResponseTimeMs: float64(s.AvgResponseTime) / float64(time.Millisecond),
		LastUsed:          s.LastUsed,
	}
}

func (r StatRow) toStat() fleet.PerformanceStat {
	return fleet.PerformanceStat{
		AgentID:         r.AgentID,
		CapabilityID:    r.CapabilityID,
		TotalTasks:      r.TotalTasks,
		SuccessfulTasks: r.SuccessfulTasks,
		FailedTasks:     r.FailedTasks,
		SuccessRate:     r.SuccessRate,
		AvgResponseTime: time.Duration(r.AvgResponseTimeMs * float64(time.Millisecond)),
		LastUsed:        r.LastUsed,
	}
}

// GormStore persists statistics in the performance_stats table.
type GormStore struct {
	db     *gorm.DB
	closed atomic.Bool
}

// NewGormStore wraps db. The schema is owned by the migration package; call
// AutoMigrate only for throwaway databases.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the table from the model.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&StatRow{})
}

func (s *GormStore) Save(ctx context.Context, stat fleet.PerformanceStat) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	row := rowFromStat(stat)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agent_id"}, {Name: "capability_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_tasks", "successful_tasks", "failed_tasks",
			"success_rate", "avg_response_time_ms", "last_used", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save stat: %w", err)
	}
	return nil
}

func (s *GormStore) LoadAll(ctx context.Context) ([]fleet.PerformanceStat, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var rows []StatRow
	if err := s.db.WithContext(ctx).Order("agent_id, capability_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	out := make([]fleet.PerformanceStat, len(rows))
	for i, r := range rows {
		out[i] = r.toStat()
	}
	return out, nil
}

func (s *GormStore) DeleteAgent(ctx context.Context, agentID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Delete(&StatRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete stats: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	s.closed.Store(true)
	return nil
}

var _ Store = (*GormStore)(nil)
