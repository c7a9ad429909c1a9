package fleet

import "strings"

// Availability is the derived scheduling eligibility of an agent.
type Availability string

const (
	// Available 心跳正常
	Available Availability = "available"
	// Degraded 心跳迟到但未丢失，仍可调度但降低优先级
	Degraded Availability = "degraded"
	// Unavailable 心跳丢失或 Agent 报告错误/停止
	Unavailable Availability = "unavailable"
)

// Schedulable reports whether the agent may receive new tasks.
func (a Availability) Schedulable() bool {
	return a == Available || a == Degraded
}

// ReportedStatus is the raw status an agent reports alongside its heartbeat.
type ReportedStatus string

const (
	StatusRunning  ReportedStatus = "running"
	StatusIdle     ReportedStatus = "idle"
	StatusStarting ReportedStatus = "starting"
	StatusStopped  ReportedStatus = "stopped"
	StatusError    ReportedStatus = "error"
	StatusOffline  ReportedStatus = "offline"
)

// ParseReportedStatus normalizes a status string. Unknown values map to running.
func ParseReportedStatus(s string) ReportedStatus {
	switch ReportedStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusIdle:
		return StatusIdle
	case StatusStarting:
		return StatusStarting
	case StatusStopped:
		return StatusStopped
	case StatusError:
		return StatusError
	case StatusOffline:
		return StatusOffline
	default:
		return StatusRunning
	}
}

// Fatal reports whether the status makes the agent unavailable immediately.
func (s ReportedStatus) Fatal() bool {
	return s == StatusError || s == StatusStopped || s == StatusOffline
}

// Healthy reports whether the status confirms a working agent.
func (s ReportedStatus) Healthy() bool {
	return s == StatusRunning || s == StatusIdle
}
