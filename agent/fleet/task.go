package fleet

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BaSui01/agentfleet/types"
)

// TaskState is the lifecycle position of a task inside the scheduler.
type TaskState string

const (
	// TaskQueued 已提交，等待路由
	TaskQueued TaskState = "queued"
	// TaskRouting 正在选择 Agent
	TaskRouting TaskState = "routing"
	// TaskDispatched 已派发，等待结果
	TaskDispatched TaskState = "dispatched"
	// TaskCompleted 成功完成
	TaskCompleted TaskState = "completed"
	// TaskFailed 失败（包括超时、无可用 Agent）
	TaskFailed TaskState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is an immutable work request tagged with the capability it needs.
type Task struct {
	// ID is unique per engine. Assigned on submit when empty.
	ID string `json:"task_id"`

	// CapabilityID names the capability an agent must declare.
	CapabilityID string `json:"capability_id"`

	// Input is passed through to the agent untouched.
	Input json.RawMessage `json:"input,omitempty"`

	Priority Priority `json:"priority"`

	// Timeout bounds the wait for a result. Zero means the scheduler default.
	Timeout time.Duration `json:"timeout"`

	SubmittedAt time.Time `json:"submitted_at"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// MaxTaskTimeout is the longest per-task timeout accepted on submit.
const MaxTaskTimeout = 24 * time.Hour

// Validate rejects malformed tasks before they reach the queue.
func (t Task) Validate() error {
	if strings.TrimSpace(t.CapabilityID) == "" {
		return types.NewError(types.ErrInvalidTask, "capability_id is required")
	}
	if !t.Priority.Valid() {
		return types.Errorf(types.ErrInvalidTask, "invalid priority %d", int(t.Priority))
	}
	if t.Timeout < 0 {
		return types.NewError(types.ErrInvalidTask, "timeout must not be negative")
	}
	if t.Timeout > MaxTaskTimeout {
		return types.Errorf(types.ErrInvalidTask, "timeout must not exceed %s", MaxTaskTimeout)
	}
	if len(t.Input) > 0 && !json.Valid(t.Input) {
		return types.NewError(types.ErrInvalidTask, "input is not valid JSON")
	}
	return nil
}

// TaskResult is the single outcome of one task.
type TaskResult struct {
	TaskID        string          `json:"task_id"`
	Success       bool            `json:"success"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCode     types.ErrorCode `json:"error_code,omitempty"`
	ExecutionTime time.Duration   `json:"execution_time"`
	AgentID       string          `json:"agent_id,omitempty"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// State maps the result onto a terminal task state.
func (r TaskResult) State() TaskState {
	if r.Success {
		return TaskCompleted
	}
	return TaskFailed
}

// FailedResult builds a failed result from err, keeping its error code.
func FailedResult(taskID, agentID string, err error, elapsed time.Duration) TaskResult {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	return TaskResult{
		TaskID:        taskID,
		Success:       false,
		Error:         err.Error(),
		ErrorCode:     code,
		ExecutionTime: elapsed,
		AgentID:       agentID,
		CompletedAt:   time.Now(),
	}
}
