package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/types"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.tasksSubmitted)
	assert.NotNil(t, collector.decisionsTotal)
	assert.NotNil(t, collector.queueDepth)
	assert.NotNil(t, collector.availabilityTransits)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/v1/status", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/v1/status", 200, 50*time.Millisecond, 512, 1024)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/v1/status", "2xx")))
}

func TestCollector_TaskLifecycle(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)
	task := fleet.Task{ID: "t1", CapabilityID: "translate", Priority: fleet.PriorityUrgent}

	collector.TaskSubmitted(task)
	collector.QueueDepth(3)
	collector.TaskDecided(fleet.AllocationDecision{TaskID: "t1", AgentID: "agent-a", Strategy: fleet.StrategyBestMatch}, time.Millisecond)
	collector.AgentLoad("agent-a", 2)
	collector.TaskFinished(task, fleet.TaskResult{TaskID: "t1", Success: true, AgentID: "agent-a", ExecutionTime: time.Second})
	collector.TaskFinished(task, fleet.TaskResult{TaskID: "t2", ErrorCode: types.ErrNoAvailableAgent})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksSubmitted.WithLabelValues("translate", "urgent")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.decisionsTotal.WithLabelValues("best_match", "agent-a")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.agentLoad.WithLabelValues("agent-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksFinished.WithLabelValues("translate", "completed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksFinished.WithLabelValues("translate", "failed", "NO_AVAILABLE_AGENT")))
	// 未到达 Agent 的任务不计入耗时
	assert.Equal(t, 1, testutil.CollectAndCount(collector.taskDuration))

	collector.ForgetAgent("agent-a")
	assert.Equal(t, 0, testutil.CollectAndCount(collector.agentLoad))
}

func TestCollector_HealthAndRecovery(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAvailabilityTransition("agent-a", fleet.Available, fleet.Degraded)
	collector.RecordAvailabilityTransition("agent-a", fleet.Available, fleet.Degraded)
	collector.SetAvailabilityCounts(map[fleet.Availability]int{fleet.Available: 2, fleet.Unavailable: 1})
	collector.RecordRecoveryEvent("agent-c", "excluded")
	collector.RecordHeartbeat(fleet.StatusRunning)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.availabilityTransits.WithLabelValues("agent-a", "available", "degraded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.agentsByAvailability.WithLabelValues("available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.agentsByAvailability.WithLabelValues("unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.recoveryEventsTotal.WithLabelValues("agent-c", "excluded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.heartbeatsTotal.WithLabelValues("running")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.TaskSubmitted(fleet.Task{CapabilityID: "translate", Priority: fleet.PriorityNormal})
			collector.AgentLoad(fmt.Sprintf("agent-%d", id), id)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.tasksSubmitted.WithLabelValues("translate", "normal")))
	assert.Equal(t, 10, testutil.CollectAndCount(collector.agentLoad))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.tasksSubmitted)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(0))
}
