package schedule

import (
	"container/heap"

	"github.com/SharkGamerZ/CRAB/pkg/types"
)

// entryQueue is a container/heap priority queue of types.ScheduleEntry keyed
// by Timestamp, with Seq (insertion order) as the tie-break — the REDESIGN
// FLAG resolution for "ad-hoc list-of-tuples schedule" ordering.
type entryQueue []types.ScheduleEntry

func (q entryQueue) Len() int { return len(q) }

func (q entryQueue) Less(i, j int) bool {
	if q[i].Timestamp != q[j].Timestamp {
		return q[i].Timestamp < q[j].Timestamp
	}
	return q[i].Seq < q[j].Seq
}

func (q entryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *entryQueue) Push(x any) {
	*q = append(*q, x.(types.ScheduleEntry))
}

func (q *entryQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// scheduleQueue wraps entryQueue with a monotonic insertion counter so
// callers never have to thread Seq values through by hand.
type scheduleQueue struct {
	heap entryQueue
	next int
}

func newScheduleQueue(initial []types.ScheduleEntry) *scheduleQueue {
	q := &scheduleQueue{heap: make(entryQueue, 0, len(initial))}
	for _, e := range initial {
		q.Push(e.AppID, e.Action, e.Timestamp)
	}
	return q
}

// Push enqueues a new entry, stamping it with the next insertion sequence.
func (q *scheduleQueue) Push(appID int, action types.ScheduleAction, timestamp float64) {
	e := types.ScheduleEntry{AppID: appID, Action: action, Timestamp: timestamp, Seq: q.next}
	q.next++
	heap.Push(&q.heap, e)
}

// PopDueBy removes and returns, in (timestamp, seq) order, every entry whose
// Timestamp is <= t.
func (q *scheduleQueue) PopDueBy(t float64) []types.ScheduleEntry {
	var due []types.ScheduleEntry
	for q.heap.Len() > 0 && q.heap[0].Timestamp <= t {
		due = append(due, heap.Pop(&q.heap).(types.ScheduleEntry))
	}
	return due
}

func (q *scheduleQueue) Len() int { return q.heap.Len() }
