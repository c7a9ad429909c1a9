package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/scheduler"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

const (
	healthHealthy   = "healthy"
	healthDegraded  = "degraded"
	healthUnhealthy = "unhealthy"
)

// readyTimeout 限制就绪检查中所有依赖 ping 的总时长
const readyTimeout = 5 * time.Second

// FleetView 是健康接口读取的引擎状态
type FleetView interface {
	Running() bool
	Status() scheduler.Status
}

// HealthHandler 服务与调度集群的健康检查
type HealthHandler struct {
	fleet  FleetView
	logger *zap.Logger

	mu   sync.RWMutex
	deps []Dependency
}

// Dependency 外部依赖（Redis、数据库）的连通性检查
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Fleet     *FleetHealth           `json:"fleet,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// FleetHealth 按可用性统计的 Agent 数量与任务积压
type FleetHealth struct {
	Running       bool  `json:"running"`
	Agents        int   `json:"agents"`
	Available     int   `json:"available"`
	Degraded      int   `json:"degraded"`
	Unavailable   int   `json:"unavailable"`
	Excluded      int   `json:"excluded"`
	Schedulable   int   `json:"schedulable"`
	QueuedTasks   int   `json:"queued_tasks"`
	InFlightTasks int64 `json:"in_flight_tasks"`
}

// CheckResult 单个依赖的检查结果
type CheckResult struct {
	Status  string `json:"status"` // pass, fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(view FleetView, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{fleet: view, logger: logger}
}

// AddDependency 注册一个在就绪检查中 ping 的外部依赖
func (h *HealthHandler) AddDependency(name string, ping func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = append(h.deps, Dependency{Name: name, Ping: ping})
}

func (h *HealthHandler) fleetHealth() FleetHealth {
	st := h.fleet.Status()
	fh := FleetHealth{
		Running:       h.fleet.Running(),
		Agents:        len(st.Agents),
		Available:     st.Availability[fleet.Available],
		Degraded:      st.Availability[fleet.Degraded],
		Unavailable:   st.Availability[fleet.Unavailable],
		QueuedTasks:   st.QueuedTasks,
		InFlightTasks: st.InFlightTasks,
	}
	for _, a := range st.Agents {
		if a.Excluded {
			fh.Excluded++
			continue
		}
		if a.Availability.Schedulable() {
			fh.Schedulable++
		}
	}
	return fh
}

// grade 将集群状态映射为健康等级。
// 空集群视为 degraded 而非 unhealthy，否则 Agent 无法经由同一入口完成注册。
func (fh FleetHealth) grade() string {
	switch {
	case !fh.Running:
		return healthUnhealthy
	case fh.Agents == 0:
		return healthDegraded
	case fh.Schedulable == 0:
		return healthUnhealthy
	case fh.Schedulable < fh.Agents:
		return healthDegraded
	}
	return healthHealthy
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求，返回集群可用性与任务积压
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	fh := h.fleetHealth()
	status := HealthStatus{
		Status:    fh.grade(),
		Timestamp: time.Now(),
		Fleet:     &fh,
	}
	code := http.StatusOK
	if status.Status == healthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// HandleHealthz 处理 /healthz 请求，只表示进程存活
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: healthHealthy, Timestamp: time.Now()})
}

// HandleReady 处理 /ready 与 /readyz 请求。
// 引擎未运行、已注册 Agent 全部不可调度或任一依赖失败时返回 503。
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	deps := append([]Dependency(nil), h.deps...)
	h.mu.RUnlock()

	fh := h.fleetHealth()
	status := HealthStatus{
		Status:    healthHealthy,
		Timestamp: time.Now(),
		Fleet:     &fh,
		Checks:    make(map[string]CheckResult, len(deps)+1),
	}

	ready := true
	fleetCheck := CheckResult{Status: "pass"}
	switch {
	case !fh.Running:
		fleetCheck = CheckResult{Status: "fail", Message: "scheduling engine is not running"}
	case fh.Agents > 0 && fh.Schedulable == 0:
		fleetCheck = CheckResult{Status: "fail", Message: "no schedulable agents"}
	}
	if fleetCheck.Status == "fail" {
		ready = false
	}
	status.Checks["fleet"] = fleetCheck

	for _, dep := range deps {
		start := time.Now()
		err := dep.Ping(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			ready = false
			h.logger.Warn("dependency check failed",
				zap.String("dependency", dep.Name),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		status.Checks[dep.Name] = result
	}

	if !ready {
		status.Status = healthUnhealthy
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}
