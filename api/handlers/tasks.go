package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/scheduler"
	"github.com/BaSui01/agentfleet/internal/ctxkeys"
	"github.com/BaSui01/agentfleet/types"
)

// =============================================================================
// 📋 任务 Handler
// =============================================================================

// TaskService 是任务接口依赖的引擎能力
type TaskService interface {
	Submit(ctx context.Context, task fleet.Task) (string, error)
	Result(ctx context.Context, taskID string) (scheduler.Outcome, error)
	Complete(ctx context.Context, result fleet.TaskResult) error
	Decisions(limit int) []fleet.AllocationDecision
}

// TaskHandler 任务提交、结果查询与外部完成
type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

// SubmitTaskRequest 任务提交请求
type SubmitTaskRequest struct {
	// 可选，留空时由引擎分配
	TaskID       string          `json:"task_id,omitempty"`
	CapabilityID string          `json:"capability_id"`
	Input        json.RawMessage `json:"input,omitempty"`
	// low, normal, high, urgent；默认 normal
	Priority  fleet.Priority    `json:"priority,omitempty"`
	TimeoutMS int64             `json:"timeout_ms,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SubmitTaskResponse 任务提交响应
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

// CompleteTaskRequest Agent 异步回报的任务结果
type CompleteTaskRequest struct {
	AgentID         string          `json:"agent_id,omitempty"`
	Success         bool            `json:"success"`
	Output          json.RawMessage `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms,omitempty"`
}

// NewTaskHandler 创建任务 Handler
func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		service: service,
		logger:  logger.With(zap.String("handler", "tasks")),
	}
}

// HandleSubmit 处理 POST /v1/tasks
func (h *TaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TimeoutMS < 0 {
		WriteError(w, types.NewError(types.ErrInvalidTask, "timeout_ms must not be negative"), h.logger)
		return
	}
	// 先比较毫秒数再换算，避免 Duration 溢出
	if req.TimeoutMS > fleet.MaxTaskTimeout.Milliseconds() {
		WriteError(w, types.Errorf(types.ErrInvalidTask, "timeout_ms must not exceed %d",
			fleet.MaxTaskTimeout.Milliseconds()), h.logger)
		return
	}
	if req.Priority == 0 {
		req.Priority = fleet.PriorityNormal
	}
	// 请求 ID 随任务元数据传给 Agent，便于串联日志
	if rid, ok := ctxkeys.RequestID(r.Context()); ok {
		if req.Metadata == nil {
			req.Metadata = make(map[string]string, 1)
		}
		if _, set := req.Metadata["request_id"]; !set {
			req.Metadata["request_id"] = rid
		}
	}

	id, err := h.service.Submit(r.Context(), fleet.Task{
		ID:           strings.TrimSpace(req.TaskID),
		CapabilityID: strings.TrimSpace(req.CapabilityID),
		Input:        req.Input,
		Priority:     req.Priority,
		Timeout:      time.Duration(req.TimeoutMS) * time.Millisecond,
		Metadata:     req.Metadata,
	})
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	w.Header().Set("Location", "/v1/tasks/"+id)
	WriteStatus(w, http.StatusAccepted, SubmitTaskResponse{TaskID: id})
}

// HandleResult 处理 GET /v1/tasks/{id}
// 任务未完成时返回当前状态，result 字段为空
func (h *TaskHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, out)
}

// HandleComplete 处理 POST /v1/tasks/{id}/result
func (h *TaskHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	result := fleet.TaskResult{
		TaskID:        r.PathValue("id"),
		Success:       req.Success,
		Output:        req.Output,
		Error:         req.Error,
		ExecutionTime: time.Duration(req.ExecutionTimeMS) * time.Millisecond,
		AgentID:       req.AgentID,
		CompletedAt:   time.Now(),
	}
	if !result.Success {
		result.ErrorCode = types.ErrDispatchError
		if result.Error == "" {
			result.Error = "agent reported failure"
		}
	}

	if err := h.service.Complete(r.Context(), result); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, map[string]string{"task_id": result.TaskID})
}

// HandleDecisions 处理 GET /v1/decisions?limit=N
func (h *TaskHandler) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "limit must be a positive integer"), h.logger)
			return
		}
		limit = n
	}
	WriteSuccess(w, h.service.Decisions(limit))
}
