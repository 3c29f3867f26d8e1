// Package schedq implements the per-host event queue described by
// spec.md §4.3: a min-heap ordered by event.Less, with sequence numbers
// assigned atomically at push time so that ties on the same host are
// broken deterministically regardless of which worker produced the event.
package schedq

import (
	"container/heap"
	"sync/atomic"

	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/vtime"
)

// Queue is a single host's due-event queue. It is not safe for concurrent
// use by more than one writer; the scheduler's single-writer-per-round
// discipline (spec.md §4.5) is what makes that acceptable.
type Queue struct {
	heap innerHeap
	seq  uint64
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{}
	heap.Init(&q.heap)
	return q
}

// Push inserts ev, assigning it the queue's next sequence number. Runs in
// O(log n).
func (q *Queue) Push(ev event.Event) event.Event {
	ev.Sequence = atomic.AddUint64(&q.seq, 1)
	heap.Push(&q.heap, ev)
	return ev
}

// Len reports the number of pending events.
func (q *Queue) Len() int { return q.heap.Len() }

// PeekMinTime returns the time of the earliest pending event, or
// vtime.Max if the queue is empty. Cheap, used by the scheduler's
// safe-time computation every round.
func (q *Queue) PeekMinTime() vtime.SimulationTime {
	if q.heap.Len() == 0 {
		return vtime.Max
	}
	return q.heap[0].Time
}

// PopDue removes and returns the earliest event if its time is <= horizon.
// Returns (zero, false) if the queue is empty or the earliest event is
// still beyond the horizon — a host must never execute an event past its
// current granted horizon (spec.md §4.3 invariant).
func (q *Queue) PopDue(horizon vtime.SimulationTime) (event.Event, bool) {
	if q.heap.Len() == 0 {
		return event.Event{}, false
	}
	if q.heap[0].Time > horizon {
		return event.Event{}, false
	}
	ev := heap.Pop(&q.heap).(event.Event)
	return ev, true
}

// innerHeap adapts []event.Event to container/heap.Interface using the
// total order from event.Less.
type innerHeap []event.Event

func (h innerHeap) Len() int            { return len(h) }
func (h innerHeap) Less(i, j int) bool  { return event.Less(h[i], h[j]) }
func (h innerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *innerHeap) Push(x interface{}) { *h = append(*h, x.(event.Event)) }
func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
