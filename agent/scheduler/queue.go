package scheduler

import (
	"container/heap"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// queueItem is one queued task. seq is the submission order and keeps
// tasks of one priority band FIFO.
type queueItem struct {
	entry *taskEntry
	seq   uint64
}

// taskHeap orders by priority descending, then seq ascending.
type taskHeap []queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	pi, pj := h[i].entry.task.Priority, h[j].entry.task.Priority
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

// priorityQueue is a bounded priority queue. Not safe for concurrent use;
// the scheduler guards it with its own mutex.
type priorityQueue struct {
	items    taskHeap
	capacity int
	seq      uint64
	byBand   map[fleet.Priority]int
}

func newPriorityQueue(capacity int) *priorityQueue {
	return &priorityQueue{capacity: capacity, byBand: make(map[fleet.Priority]int)}
}

// push reports false when the queue is at capacity.
func (q *priorityQueue) push(e *taskEntry) bool {
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return false
	}
	q.seq++
	heap.Push(&q.items, queueItem{entry: e, seq: q.seq})
	q.byBand[e.task.Priority]++
	return true
}

func (q *priorityQueue) pop() (*taskEntry, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(queueItem)
	q.byBand[item.entry.task.Priority]--
	return item.entry, true
}

func (q *priorityQueue) len() int { return len(q.items) }

// bands returns the number of queued tasks per priority.
func (q *priorityQueue) bands() map[fleet.Priority]int {
	out := make(map[fleet.Priority]int, len(q.byBand))
	for p, n := range q.byBand {
		if n > 0 {
			out[p] = n
		}
	}
	return out
}
