// MockLifecycle 的 Agent 生命周期测试模拟实现。
//
// 记录 start/stop 调用，支持按 Agent 注入失败。
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/agentfleet/agent/discovery"
	"github.com/BaSui01/agentfleet/agent/fleet"
)

// ErrStartFailed 是注入的启动失败
var ErrStartFailed = errors.New("mock: start failed")

// ErrStopFailed 是注入的停止失败
var ErrStopFailed = errors.New("mock: stop failed")

// MockLifecycle 是 discovery.Lifecycle 的模拟实现
type MockLifecycle struct {
	mu sync.Mutex

	// 剩余失败次数，负数表示一直失败
	startFailures map[string]int
	stopFailures  map[string]int

	starts map[string]int
	stops  map[string]int
}

var _ discovery.Lifecycle = (*MockLifecycle)(nil)

// NewMockLifecycle 创建新的 MockLifecycle
func NewMockLifecycle() *MockLifecycle {
	return &MockLifecycle{
		startFailures: make(map[string]int),
		stopFailures:  make(map[string]int),
		starts:        make(map[string]int),
		stops:         make(map[string]int),
	}
}

// FailStart 让 Agent 接下来 n 次启动失败，n < 0 表示一直失败
func (m *MockLifecycle) FailStart(agentID string, n int) *MockLifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startFailures[agentID] = n
	return m
}

// FailStop 让 Agent 接下来 n 次停止失败，n < 0 表示一直失败
func (m *MockLifecycle) FailStop(agentID string, n int) *MockLifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopFailures[agentID] = n
	return m
}

// Start 实现 discovery.Lifecycle
func (m *MockLifecycle) Start(ctx context.Context, agent fleet.AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts[agent.ID]++
	if consume(m.startFailures, agent.ID) {
		return ErrStartFailed
	}
	return ctx.Err()
}

// Stop 实现 discovery.Lifecycle
func (m *MockLifecycle) Stop(ctx context.Context, agent fleet.AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops[agent.ID]++
	if consume(m.stopFailures, agent.ID) {
		return ErrStopFailed
	}
	return ctx.Err()
}

func consume(failures map[string]int, agentID string) bool {
	n, ok := failures[agentID]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		failures[agentID] = n - 1
	}
	return true
}

// Starts 返回 Agent 的启动调用次数
func (m *MockLifecycle) Starts(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts[agentID]
}

// Stops 返回 Agent 的停止调用次数
func (m *MockLifecycle) Stops(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops[agentID]
}
