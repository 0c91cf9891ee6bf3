package dispatch

import (
	"container/heap"
	"sync"
	"time"
)

// Entry is one delayed task re-entry in the queue.
type Entry struct {
	TaskID string
	Due    time.Time
}

// DelayQueue is a min-heap of task re-entries ordered by due time. Retrying
// tasks are pushed with their backoff deadline and popped by the batch
// scheduler once due, so delayed retries stay observable instead of hiding
// inside timer callbacks. Safe for concurrent use.
type DelayQueue struct {
	mu sync.Mutex
	h  entryHeap
}

// NewDelayQueue constructs an empty DelayQueue.
func NewDelayQueue() *DelayQueue {
	q := &DelayQueue{}
	heap.Init(&q.h)
	return q
}

// Push schedules a task re-entry at the given due time.
func (q *DelayQueue) Push(taskID string, due time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, Entry{TaskID: taskID, Due: due})
}

// PopDue removes and returns all entries due at or before now, in due order.
func (q *DelayQueue) PopDue(now time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Entry
	for q.h.Len() > 0 && !q.h[0].Due.After(now) {
		e, ok := heap.Pop(&q.h).(Entry)
		if !ok {
			continue
		}
		due = append(due, e)
	}
	return due
}

// NextDue returns the earliest due time and true, or zero time and false when empty.
func (q *DelayQueue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return time.Time{}, false
	}
	return q.h[0].Due, true
}

// Entries returns a snapshot of all queued entries in heap order. The batch
// scheduler uses it to exclude not-yet-due retries from batch selection.
func (q *DelayQueue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.h))
	copy(out, q.h)
	return out
}

// Len returns the number of queued entries.
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// entryHeap implements heap.Interface ordered by Due ascending.
type entryHeap []Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].Due.Before(h[j].Due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
