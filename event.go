package ioq

import (
	"sync"
	"time"
)

// Event is a manual-reset event: raise/clear/wait/timed-wait, the Go
// equivalent of the source library's thr_event_t (a mutex-and-condition-
// variable pair guarding a single sticky boolean). Used by RunQueue
// workers and the DNS resolver worker to block until there is work, and
// exposed publicly since §2 lists it as a core threading primitive.
type Event struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state bool
}

// NewEvent returns a cleared Event ready for use.
func NewEvent() *Event {
	e := &Event{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Raise sets the event. Exactly one Broadcast happens per false->true
// transition, mirroring thr_event_raise's "if (!old) pthread_cond_signal".
func (e *Event) Raise() {
	e.mu.Lock()
	old := e.state
	e.state = true
	e.mu.Unlock()
	if !old {
		e.cond.Broadcast()
	}
}

// Clear resets the event to unset.
func (e *Event) Clear() {
	e.mu.Lock()
	e.state = false
	e.mu.Unlock()
}

// Wait blocks until the event is set.
func (e *Event) Wait() {
	e.mu.Lock()
	for !e.state {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

// WaitTimeout blocks until the event is set or timeoutMs elapses,
// returning true if the event was observed set. Unlike a done-channel
// plus spawned goroutine, the deadline is enforced by a timer that
// broadcasts on the same condition variable the caller is parked on: the
// caller's own goroutine wakes (either because Raise signalled it or
// because the deadline timer did) and rechecks both state and the clock,
// so no goroutine is ever left stranded in cond.Wait past this call's
// return.
func (e *Event) WaitTimeout(timeoutMs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state {
		return true
	}
	if timeoutMs <= 0 {
		return false
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, e.cond.Broadcast)
	defer timer.Stop()

	for !e.state {
		if !time.Now().Before(deadline) {
			return false
		}
		e.cond.Wait()
	}
	return true
}

// IsSet reports the current state without blocking.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
