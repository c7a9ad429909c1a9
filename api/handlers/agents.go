package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/health"
	"github.com/BaSui01/agentfleet/agent/scheduler"
	"github.com/BaSui01/agentfleet/internal/ctxkeys"
	"github.com/BaSui01/agentfleet/types"
)

// =============================================================================
// 🤖 Agent 管理 Handler
// =============================================================================

// FleetService 是 Agent 接口依赖的引擎能力
type FleetService interface {
	Status() scheduler.Status
	Agent(agentID string) (fleet.AgentRecord, error)
	Capabilities() []string
	Heartbeat(beat health.Beat) error
	RegisterAgent(ctx context.Context, rec fleet.AgentRecord) error
	UnregisterAgent(ctx context.Context, agentID string) error
	ResetAgent(agentID string) error
	SetRecoveryEnabled(enabled bool)
	RecoveryEnabled() bool
	SetAgentRecoveryEnabled(agentID string, enabled bool) error
	SetAutoStartEnabled(enabled bool)
	AutoStartEnabled() bool
	StartAutoStartAgents(ctx context.Context) int
}

// AgentHandler Agent 注册、状态、心跳与运维接口
type AgentHandler struct {
	service FleetService
	logger  *zap.Logger
}

// RegisterAgentRequest Agent 注册请求
type RegisterAgentRequest struct {
	AgentID        string            `json:"agent_id"`
	Name           string            `json:"name,omitempty"`
	Capabilities   []string          `json:"capabilities"`
	Endpoint       string            `json:"endpoint,omitempty"`
	MaxConcurrency int               `json:"max_concurrency,omitempty"`
	CostPerRequest float64           `json:"cost_per_request,omitempty"`
	CostTier       fleet.CostTier    `json:"cost_tier,omitempty"`
	Priority       *float64          `json:"priority,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	AutoStart      bool              `json:"auto_start,omitempty"`
}

// HeartbeatRequest 心跳推送请求，timestamp 留空时取服务端时间
type HeartbeatRequest struct {
	AgentID   string    `json:"agent_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// HeartbeatAck WebSocket 心跳流中每条心跳的应答
type HeartbeatAck struct {
	AgentID  string `json:"agent_id"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// RecoveryToggleRequest 恢复开关请求
type RecoveryToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// NewAgentHandler 创建 Agent Handler
func NewAgentHandler(service FleetService, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		service: service,
		logger:  logger.With(zap.String("handler", "agents")),
	}
}

// HandleStatus 处理 GET /v1/status
func (h *AgentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.service.Status())
}

// HandleListAgents 处理 GET /v1/agents，可按 ?capability= 过滤
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.service.Status().Agents
	if c := r.URL.Query().Get("capability"); c != "" {
		filtered := agents[:0]
		for _, a := range agents {
			for _, ac := range a.Capabilities {
				if ac == c {
					filtered = append(filtered, a)
					break
				}
			}
		}
		agents = filtered
	}
	WriteSuccess(w, agents)
}

// HandleGetAgent 处理 GET /v1/agents/{id}
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Agent(r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, rec)
}

// HandleCapabilities 处理 GET /v1/capabilities
func (h *AgentHandler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.service.Capabilities())
}

// HandleRegister 处理 POST /v1/agents
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	rec := fleet.AgentRecord{
		ID:             strings.TrimSpace(req.AgentID),
		Name:           req.Name,
		Capabilities:   req.Capabilities,
		Endpoint:       req.Endpoint,
		MaxConcurrency: req.MaxConcurrency,
		CostPerRequest: req.CostPerRequest,
		CostTier:       req.CostTier,
		Metadata:       req.Metadata,
		AutoStart:      req.AutoStart,
	}
	if req.Priority != nil {
		rec.Priority = *req.Priority
	}

	if err := h.service.RegisterAgent(r.Context(), rec); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	registered, err := h.service.Agent(rec.ID)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	h.logger.Info("agent registered via API",
		zap.String("agent_id", rec.ID),
		zap.Strings("capabilities", registered.Capabilities))
	WriteStatus(w, http.StatusCreated, registered)
}

// HandleUnregister 处理 DELETE /v1/agents/{id}
func (h *AgentHandler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UnregisterAgent(r.Context(), r.PathValue("id")); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHeartbeat 处理 POST /v1/agents/{id}/heartbeat
func (h *AgentHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	id := r.PathValue("id")
	if req.AgentID != "" && req.AgentID != id {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "agent_id does not match path"), h.logger)
		return
	}
	req.AgentID = id

	if err := h.service.Heartbeat(req.beat()); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHeartbeatStream 处理 GET /v1/agents/heartbeats/stream
// 连接建立后客户端持续发送 HeartbeatRequest，服务端对每条回一个 HeartbeatAck
func (h *AgentHandler) HandleHeartbeatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("heartbeat stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(MaxBodyBytes)

	ctx := r.Context()
	for {
		var req HeartbeatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return
			}
			h.logger.Debug("heartbeat stream closed", zap.Error(err))
			return
		}

		ack := HeartbeatAck{AgentID: req.AgentID, Accepted: true}
		if strings.TrimSpace(req.AgentID) == "" {
			ack.Accepted, ack.Error = false, "agent_id is required"
		} else if err := h.service.Heartbeat(req.beat()); err != nil {
			ack.Accepted, ack.Error = false, err.Error()
		}

		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := wsjson.Write(writeCtx, conn, ack)
		cancel()
		if err != nil {
			h.logger.Debug("heartbeat ack failed", zap.Error(err))
			return
		}
	}
}

func (req HeartbeatRequest) beat() health.Beat {
	b := health.Beat{AgentID: req.AgentID, Timestamp: req.Timestamp}
	if req.Status != "" {
		b.Status = fleet.ParseReportedStatus(req.Status)
	}
	return b
}

// =============================================================================
// 🔧 运维接口（需 JWT 保护）
// =============================================================================

// HandleReset 处理 POST /v1/agents/{id}/reset
func (h *AgentHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.ResetAgent(id); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	h.logger.Info("agent reset by operator",
		zap.String("agent_id", id),
		zap.String("operator", operator(r)))
	rec, err := h.service.Agent(id)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, rec)
}

// HandleSetAgentRecovery 处理 PUT /v1/agents/{id}/recovery
func (h *AgentHandler) HandleSetAgentRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryToggleRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	id := r.PathValue("id")
	if err := h.service.SetAgentRecoveryEnabled(id, req.Enabled); err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"agent_id": id, "enabled": req.Enabled})
}

// HandleRecovery 处理 GET/PUT /v1/recovery
func (h *AgentHandler) HandleRecovery(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var req RecoveryToggleRequest
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
		h.service.SetRecoveryEnabled(req.Enabled)
		h.logger.Info("fleet recovery toggled",
			zap.Bool("enabled", req.Enabled),
			zap.String("operator", operator(r)))
	}
	WriteSuccess(w, map[string]bool{"enabled": h.service.RecoveryEnabled()})
}

// HandleAutoStart 处理 GET/PUT /v1/autostart
func (h *AgentHandler) HandleAutoStart(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var req RecoveryToggleRequest
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
		h.service.SetAutoStartEnabled(req.Enabled)
		h.logger.Info("auto start toggled",
			zap.Bool("enabled", req.Enabled),
			zap.String("operator", operator(r)))
	}
	WriteSuccess(w, map[string]bool{"enabled": h.service.AutoStartEnabled()})
}

// HandleRunAutoStart 处理 POST /v1/autostart/run，开关关闭时不启动任何 Agent
func (h *AgentHandler) HandleRunAutoStart(w http.ResponseWriter, r *http.Request) {
	started := h.service.StartAutoStartAgents(r.Context())
	h.logger.Info("auto start triggered",
		zap.Int("started", started),
		zap.String("operator", operator(r)))
	WriteSuccess(w, map[string]int{"started": started})
}

func operator(r *http.Request) string {
	if op, ok := ctxkeys.Operator(r.Context()); ok {
		return op
	}
	return "anonymous"
}
