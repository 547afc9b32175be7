package ioq

import (
	"container/heap"
	"sync"
)

// timerHeap is a min-heap of armed timers ordered by (deadline, seq).
// Unlike a value-slice heap, each element is a pointer and carries its
// own position (heapIdx), which is what lets Cancel/Reschedule remove an
// arbitrary already-armed timer in O(log n) via heap.Fix/heap.Remove
// instead of only ever popping the minimum.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIdx = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIdx = -1
	*h = old[:n-1]
	return t
}

// WaitQueue holds the set of armed timers ordered by deadline and
// dispatches expired ones onto a RunQueue. A single WaitQueue instance
// is normally embedded in a Queue alongside its RunQueue, but it has no
// hard dependency on that pairing and may be driven standalone by a
// caller that calls NextDeadline/Dispatch itself on a timer loop.
type WaitQueue struct {
	mu     sync.Mutex
	heap   timerHeap
	rq     *RunQueue
	wakeup WakeupFunc
	seq    uint64
	logger Logger
}

// NewWaitQueue creates a WaitQueue that dispatches expired timers onto
// rq.
func NewWaitQueue(rq *RunQueue, opts ...Option) *WaitQueue {
	cfg := resolveOptions(opts)
	return &WaitQueue{
		rq:     rq,
		logger: cfg.logger,
	}
}

// SetWakeup installs the hook called whenever Wait or Reschedule arms a
// timer that becomes the earliest deadline in the set. Cancel does not
// call it. A Queue uses this to recompute its poll timeout instead of
// polling on a fixed interval.
func (wq *WaitQueue) SetWakeup(fn WakeupFunc) {
	wq.wakeup = fn
}

// TimerInit binds t to wq. Must be called before the first Wait.
func (wq *WaitQueue) TimerInit(t *Timer) {
	InitTask(&t.task, wq.rq)
	t.owner = wq
	t.fn = nil
	t.deadline = 0
	t.heapIdx = -1
}

// Wait arms t to fire cb after intervalMs milliseconds. If t is already
// armed, it is first removed from its current position and re-armed;
// unlike Cancel, that removal does not submit the previous callback.
func (wq *WaitQueue) Wait(t *Timer, intervalMs int64, cb func(*Timer)) {
	if intervalMs < 0 {
		intervalMs = 0
	}
	wq.mu.Lock()
	wq.removeLocked(t)
	t.fn = cb
	t.deadline = Now() + intervalMs
	wq.seq++
	t.seq = wq.seq
	heap.Push(&wq.heap, t)
	becameEarliest := wq.heap[0] == t
	wq.mu.Unlock()

	if becameEarliest && wq.wakeup != nil {
		wq.wakeup()
	}
}

// Reschedule moves a currently armed timer to a new interval, keeping
// its existing callback. A no-op if t is not in the wait set (never
// armed, already fired, or cancelled).
func (wq *WaitQueue) Reschedule(t *Timer, intervalMs int64) {
	if intervalMs < 0 {
		intervalMs = 0
	}
	wq.mu.Lock()
	if t.heapIdx < 0 || t.heapIdx >= len(wq.heap) || wq.heap[t.heapIdx] != t {
		wq.mu.Unlock()
		return
	}
	t.deadline = Now() + intervalMs
	wq.seq++
	t.seq = wq.seq
	heap.Fix(&wq.heap, t.heapIdx)
	becameEarliest := wq.heap[0] == t
	wq.mu.Unlock()

	if becameEarliest && wq.wakeup != nil {
		wq.wakeup()
	}
}

// Cancel removes t from the wait set if it is currently armed, marks it
// cancelled (Cancelled reports true until the next Wait) and submits its
// callback onto the RunQueue, so the callback still runs exactly once. A
// no-op if t is not in the wait set.
func (wq *WaitQueue) Cancel(t *Timer) {
	wq.mu.Lock()
	if t.heapIdx < 0 || t.heapIdx >= len(wq.heap) || wq.heap[t.heapIdx] != t {
		wq.mu.Unlock()
		return
	}
	wq.removeLocked(t)
	t.deadline = 0
	cb := t.fn
	wq.mu.Unlock()

	t.task.Exec(func(*Task) { cb(t) })
}

// removeLocked removes t from the heap if present. Caller holds wq.mu.
func (wq *WaitQueue) removeLocked(t *Timer) {
	if t.heapIdx < 0 || t.heapIdx >= len(wq.heap) || wq.heap[t.heapIdx] != t {
		return
	}
	heap.Remove(&wq.heap, t.heapIdx)
}

// Len reports the number of currently armed timers.
func (wq *WaitQueue) Len() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.heap)
}

// Cancelled reports whether t's deadline is the cancellation sentinel 0:
// true after Cancel (and for a timer that was never armed), false for a
// timer that is armed or that completed by natural expiry.
func (wq *WaitQueue) Cancelled(t *Timer) bool {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return t.deadline == 0
}

// NextDeadline reports how many milliseconds remain until the earliest
// armed timer expires: -1 if the set is empty, 0 if the earliest
// deadline has already passed, otherwise the positive remaining
// duration. A poller uses this directly as its epoll/kqueue timeout.
func (wq *WaitQueue) NextDeadline() int64 {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	if len(wq.heap) == 0 {
		return -1
	}
	remaining := wq.heap[0].deadline - Now()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Dispatch pops up to limit expired timers (0 means unlimited) and
// submits each onto its RunQueue, returning the number submitted. Each
// timer leaves the wait set before its task is submitted, so a callback
// that re-arms its own timer from within cb never races the queue's
// bookkeeping. The deadline keeps its non-zero value, so Cancelled
// reports false inside a callback run by natural expiry.
func (wq *WaitQueue) Dispatch(limit uint) uint {
	now := Now()
	var fired []*Timer

	wq.mu.Lock()
	for (limit == 0 || uint(len(fired)) < limit) && len(wq.heap) > 0 && wq.heap[0].deadline <= now {
		t := heap.Pop(&wq.heap).(*Timer)
		fired = append(fired, t)
	}
	wq.mu.Unlock()

	for _, t := range fired {
		cb := t.fn
		t.task.Exec(func(*Task) { cb(t) })
	}
	return uint(len(fired))
}
