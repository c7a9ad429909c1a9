// =============================================================================
// 📦 测试数据工厂 - Agent、任务与结果
// =============================================================================
// 提供预定义的 Agent 记录、任务与结果，用于测试
// =============================================================================
package fixtures

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/types"
)

// =============================================================================
// 🤖 Agent 工厂
// =============================================================================

// Agent 返回声明了给定能力的 Agent，并发上限为 2
func Agent(id string, capabilities ...string) fleet.AgentRecord {
	return fleet.AgentRecord{
		ID:             id,
		Name:           id,
		Capabilities:   capabilities,
		MaxConcurrency: 2,
		CostTier:       fleet.CostStandard,
		Priority:       0.5,
	}
}

// PremiumAgent 返回高成本、高优先级的 Agent
func PremiumAgent(id string, capabilities ...string) fleet.AgentRecord {
	rec := Agent(id, capabilities...)
	rec.CostTier = fleet.CostPremium
	rec.CostPerRequest = 0.05
	rec.Priority = 0.9
	return rec
}

// RemoteAgent 返回带 HTTP 端点的 Agent
func RemoteAgent(id, endpoint string, capabilities ...string) fleet.AgentRecord {
	rec := Agent(id, capabilities...)
	rec.Endpoint = endpoint
	return rec
}

// TranslationFleet 返回三个都能翻译的 Agent，其中一个同时能摘要
func TranslationFleet() []fleet.AgentRecord {
	return []fleet.AgentRecord{
		Agent("translator-a", "translate"),
		Agent("translator-b", "translate", "summarize"),
		PremiumAgent("translator-premium", "translate"),
	}
}

// =============================================================================
// 📋 任务工厂
// =============================================================================

// Task 返回普通优先级的任务
func Task(capabilityID string) fleet.Task {
	return fleet.Task{
		CapabilityID: capabilityID,
		Input:        json.RawMessage(`{"text":"hello"}`),
		Priority:     fleet.PriorityNormal,
	}
}

// UrgentTask 返回紧急任务
func UrgentTask(capabilityID string) fleet.Task {
	t := Task(capabilityID)
	t.Priority = fleet.PriorityUrgent
	return t
}

// =============================================================================
// ✅ 结果工厂
// =============================================================================

// SuccessResult 返回成功结果
func SuccessResult(taskID, agentID string, output json.RawMessage, took time.Duration) fleet.TaskResult {
	return fleet.TaskResult{
		TaskID:        taskID,
		AgentID:       agentID,
		Success:       true,
		Output:        output,
		ExecutionTime: took,
		CompletedAt:   time.Now(),
	}
}

// FailureResult 返回失败结果
func FailureResult(taskID, agentID string, code types.ErrorCode, message string) fleet.TaskResult {
	return fleet.TaskResult{
		TaskID:      taskID,
		AgentID:     agentID,
		Success:     false,
		Error:       message,
		ErrorCode:   code,
		CompletedAt: time.Now(),
	}
}
