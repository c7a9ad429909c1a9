package scheduler

import (
	"sync"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// DefaultDecisionHistory is the number of decisions kept for audit.
const DefaultDecisionHistory = 1000

// decisionLog is a fixed-size ring of recent allocation decisions.
type decisionLog struct {
	mu    sync.Mutex
	buf   []fleet.AllocationDecision
	next  int
	count int
}

func newDecisionLog(size int) *decisionLog {
	if size <= 0 {
		size = DefaultDecisionHistory
	}
	return &decisionLog{buf: make([]fleet.AllocationDecision, size)}
}

func (l *decisionLog) add(d fleet.AllocationDecision) {
	l.mu.Lock()
	l.buf[l.next] = d
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()
}

// recent returns up to limit decisions, oldest first. limit <= 0 means all.
func (l *decisionLog) recent(limit int) []fleet.AllocationDecision {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]fleet.AllocationDecision, n)
	start := (l.next - n + len(l.buf)) % len(l.buf)
	for i := 0; i < n; i++ {
		out[i] = l.buf[(start+i)%len(l.buf)]
	}
	return out
}
