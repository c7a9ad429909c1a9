// MockDispatcher 的任务派发测试模拟实现。
//
// 支持按 Agent 编排结果、延迟完成（外部回调）与错误注入。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/transport"
	"github.com/BaSui01/agentfleet/types"
)

// --- MockDispatcher 结构 ---

// DispatchFunc 自定义派发行为
type DispatchFunc func(ctx context.Context, agent fleet.AgentRecord, task fleet.Task) (fleet.TaskResult, error)

// DispatchCall 记录单次派发
type DispatchCall struct {
	AgentID string
	Task    fleet.Task
	At      time.Time
}

// MockDispatcher 是 transport.Dispatcher 的模拟实现
// 未编排的 Agent 原样回显任务输入
type MockDispatcher struct {
	mu sync.Mutex

	funcs    map[string]DispatchFunc
	deferred map[string]bool
	delay    time.Duration

	calls []DispatchCall
}

var _ transport.Dispatcher = (*MockDispatcher)(nil)

// NewMockDispatcher 创建新的 MockDispatcher
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{
		funcs:    make(map[string]DispatchFunc),
		deferred: make(map[string]bool),
	}
}

// --- Builder 方法 ---

// WithFunc 为 Agent 指定派发行为
func (m *MockDispatcher) WithFunc(agentID string, fn DispatchFunc) *MockDispatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[agentID] = fn
	return m
}

// WithFailure 让 Agent 的每次执行都以给定错误码失败
func (m *MockDispatcher) WithFailure(agentID string, code types.ErrorCode, message string) *MockDispatcher {
	return m.WithFunc(agentID, func(ctx context.Context, agent fleet.AgentRecord, task fleet.Task) (fleet.TaskResult, error) {
		return fleet.TaskResult{TaskID: task.ID, Success: false, Error: message, ErrorCode: code}, nil
	})
}

// WithTransportError 让派发本身失败（连接错误等）
func (m *MockDispatcher) WithTransportError(agentID string, err error) *MockDispatcher {
	return m.WithFunc(agentID, func(ctx context.Context, agent fleet.AgentRecord, task fleet.Task) (fleet.TaskResult, error) {
		return fleet.TaskResult{}, err
	})
}

// WithDeferred 让 Agent 接受任务后异步回传结果
func (m *MockDispatcher) WithDeferred(agentID string) *MockDispatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred[agentID] = true
	return m
}

// WithDelay 每次派发前等待，ctx 结束时提前返回
func (m *MockDispatcher) WithDelay(d time.Duration) *MockDispatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- transport.Dispatcher 实现 ---

// Dispatch 记录调用并按编排返回
func (m *MockDispatcher) Dispatch(ctx context.Context, agent fleet.AgentRecord, task fleet.Task) (fleet.TaskResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, DispatchCall{AgentID: agent.ID, Task: task, At: time.Now()})
	fn := m.funcs[agent.ID]
	deferred := m.deferred[agent.ID]
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fleet.TaskResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	if deferred {
		return fleet.TaskResult{}, transport.ErrDeferred
	}
	if fn != nil {
		return fn(ctx, agent, task)
	}
	return fleet.TaskResult{TaskID: task.ID, Success: true, Output: task.Input}, nil
}

// --- 查询方法 ---

// Calls 返回全部派发记录的副本
func (m *MockDispatcher) Calls() []DispatchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DispatchCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回派发到指定 Agent 的次数，agentID 为空时返回总次数
func (m *MockDispatcher) CallCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agentID == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.AgentID == agentID {
			n++
		}
	}
	return n
}

// Reset 清空调用记录
func (m *MockDispatcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
