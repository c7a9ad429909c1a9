// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 调度指标
	tasksSubmitted   *prometheus.CounterVec
	tasksFinished    *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	queueDepth       prometheus.Gauge

	// Agent 指标
	agentLoad            *prometheus.GaugeVec
	agentsByAvailability *prometheus.GaugeVec
	availabilityTransits *prometheus.CounterVec
	recoveryEventsTotal  *prometheus.CounterVec
	heartbeatsTotal      *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 调度指标
	c.tasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of submitted tasks",
		},
		[]string{"capability_id", "priority"},
	)

	c.tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of finished tasks by outcome",
		},
		[]string{"capability_id", "status", "error_code"},
	)

	c.taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_execution_duration_seconds",
			Help:      "Task execution time in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"capability_id", "agent_id"},
	)

	c.decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduling_decisions_total",
			Help:      "Total number of allocation decisions",
		},
		[]string{"strategy", "agent_id"},
	)

	c.decisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduling_decision_duration_seconds",
			Help:      "Time from dequeue to decision in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"strategy"},
	)

	c.queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Number of tasks waiting to be routed",
		},
	)

	// Agent 指标
	c.agentLoad = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_current_load",
			Help:      "Tasks currently dispatched to an agent",
		},
		[]string{"agent_id"},
	)

	c.agentsByAvailability = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Number of agents per availability",
		},
		[]string{"availability"},
	)

	c.availabilityTransits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_availability_transitions_total",
			Help:      "Total number of agent availability transitions",
		},
		[]string{"agent_id", "from", "to"},
	)

	c.recoveryEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_recovery_events_total",
			Help:      "Total number of fault recovery events",
		},
		[]string{"agent_id", "kind"},
	)

	c.heartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_heartbeats_total",
			Help:      "Total number of pushed heartbeats",
		},
		[]string{"status"},
	)

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🗂️ 调度指标记录（实现 scheduler.Observer）
// =============================================================================

// TaskSubmitted 记录任务提交
func (c *Collector) TaskSubmitted(task fleet.Task) {
	c.tasksSubmitted.WithLabelValues(task.CapabilityID, task.Priority.String()).Inc()
}

// TaskDecided 记录分配决策
func (c *Collector) TaskDecided(decision fleet.AllocationDecision, latency time.Duration) {
	c.decisionsTotal.WithLabelValues(string(decision.Strategy), decision.AgentID).Inc()
	c.decisionDuration.WithLabelValues(string(decision.Strategy)).Observe(latency.Seconds())
}

// TaskFinished 记录任务结果。未到达 Agent 的任务不计入执行耗时。
func (c *Collector) TaskFinished(task fleet.Task, result fleet.TaskResult) {
	c.tasksFinished.WithLabelValues(task.CapabilityID, string(result.State()), string(result.ErrorCode)).Inc()
	if result.AgentID != "" {
		c.taskDuration.WithLabelValues(task.CapabilityID, result.AgentID).Observe(result.ExecutionTime.Seconds())
	}
}

// QueueDepth 记录队列长度
func (c *Collector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// AgentLoad 记录 Agent 当前负载
func (c *Collector) AgentLoad(agentID string, load int) {
	c.agentLoad.WithLabelValues(agentID).Set(float64(load))
}

// =============================================================================
// 🎭 Agent 健康与恢复指标记录
// =============================================================================

// RecordAvailabilityTransition 记录可用性转换
func (c *Collector) RecordAvailabilityTransition(agentID string, from, to fleet.Availability) {
	c.availabilityTransits.WithLabelValues(agentID, string(from), string(to)).Inc()
}

// SetAvailabilityCounts 更新各可用性状态的 Agent 数量
func (c *Collector) SetAvailabilityCounts(counts map[fleet.Availability]int) {
	for a, n := range counts {
		c.agentsByAvailability.WithLabelValues(string(a)).Set(float64(n))
	}
}

// RecordRecoveryEvent 记录故障恢复事件
func (c *Collector) RecordRecoveryEvent(agentID, kind string) {
	c.recoveryEventsTotal.WithLabelValues(agentID, kind).Inc()
}

// RecordHeartbeat 记录推送心跳
func (c *Collector) RecordHeartbeat(status fleet.ReportedStatus) {
	c.heartbeatsTotal.WithLabelValues(string(status)).Inc()
}

// ForgetAgent 删除已注销 Agent 的负载序列
func (c *Collector) ForgetAgent(agentID string) {
	c.agentLoad.DeleteLabelValues(agentID)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
