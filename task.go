package ioq

// Task is the unit of callback dispatch on a RunQueue: an owning queue
// reference, a FIFO link, and a callback. It is intrusive -- callers
// embed or allocate a Task themselves; RunQueue never copies or frees
// one. A Task is on at most one FIFO at a time; calling Exec on a task
// that is already queued is a caller error (the source library leaves
// this undefined). Here it is not detected: the task is appended a
// second time and the most recently assigned callback runs once per
// Exec call.
type Task struct {
	owner *RunQueue
	fn    func(*Task)
	next  *Task
}

// InitTask binds t to rq. Must be called before the first Exec.
func InitTask(t *Task, rq *RunQueue) {
	t.owner = rq
	t.fn = nil
	t.next = nil
}

// Exec assigns fn as t's callback and appends t to its owning RunQueue's
// FIFO. Safe to call concurrently for distinct tasks.
func (t *Task) Exec(fn func(*Task)) {
	t.fn = fn
	t.owner.push(t)
}
