package ioq

// Timer is a wait-queue element: an embedded Task (so the run queue can
// dispatch it directly), an absolute monotonic-ms deadline, and a
// position inside the owning WaitQueue's deadline-ordered heap.
//
// Deadline 0 is the cancellation sentinel: Cancelled reports whether a
// timer's most recent completion was due to Cancel rather than natural
// expiry.
type Timer struct {
	task     Task
	owner    *WaitQueue
	fn       func(*Timer)
	deadline int64
	seq      uint64
	heapIdx  int // index into the owning heap; -1 when not queued
}
