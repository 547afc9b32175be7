package ioq

import (
	"sync"
	"sync/atomic"
)

// FDWaiter is an intrusive readiness waiter: an owning Queue, the raw
// fd, the event mask currently requested, and the callback to run once
// that mask is at least partially satisfied. A caller embeds one per fd
// (an AsyncSocket embeds one and arms it with the union of the masks
// its pending operations need).
type FDWaiter struct {
	task       Task
	owner      *Queue
	fd         int
	requested  IOEvents
	ready      IOEvents
	err        error
	cb         func(*FDWaiter)
	onModList  bool
	registered bool
	// waiting is set whenever w is armed with a non-empty mask and
	// cleared once that arm has been fully torn down (deregistered, if
	// it ever was registered). A cancel/mask-0 modification that finds
	// waiting still true must first deregister and clear it -- only on
	// the following pass, with waiting already false, is the callback
	// actually submitted. This is what lets applyModifications complete
	// a cancelled wait with ready==0 instead of dropping the callback.
	waiting bool
}

// Queue is the I/O queue (component E): it owns a RunQueue and a
// WaitQueue, a readiness poller, and a self-pipe wakeup so a producer on
// any goroutine can interrupt a blocked Iterate call.
type Queue struct {
	Run  *RunQueue
	Wait *WaitQueue

	poller  FastPoller
	wake    *wakeupPipe
	mu      sync.Mutex
	modFIFO *chunkedFIFO[*FDWaiter]
	state   *FastState

	notified atomic.Bool
	logger   Logger
	metrics  *Metrics
}

// NewQueue creates a Queue. backgroundWorkers sets the number of
// RunQueue worker goroutines available to drain tasks submitted from
// outside Iterate (a Resolver or AsyncFile worker completing an
// operation); Iterate itself always also drains the RunQueue
// synchronously on the calling goroutine as its final step, so
// backgroundWorkers may be 0 for a strictly single-threaded reactor.
func NewQueue(backgroundWorkers uint, opts ...Option) (*Queue, error) {
	cfg := resolveOptions(opts)

	rq, err := NewRunQueue(backgroundWorkers, opts...)
	if err != nil {
		return nil, err
	}
	wq := NewWaitQueue(rq, opts...)

	wake, err := newWakeupPipe()
	if err != nil {
		rq.Close()
		return nil, NewSysError("pipe", err)
	}

	q := &Queue{
		Run:     rq,
		Wait:    wq,
		wake:    wake,
		modFIFO: newChunkedFIFO[*FDWaiter](),
		state:   NewFastState(),
		logger:  cfg.logger,
		metrics: cfg.metrics,
	}

	if err := q.poller.Init(); err != nil {
		wake.Close()
		rq.Close()
		return nil, NewSysError("poller init", err)
	}
	if err := q.poller.Register(wake.readFD, EventRead, func(IOEvents) {
		q.notified.Store(false)
		q.wake.Drain()
	}); err != nil {
		q.poller.Close()
		wake.Close()
		rq.Close()
		return nil, NewSysError("poller register wake fd", err)
	}

	rq.SetWakeup(q.Notify)
	wq.SetWakeup(q.Notify)

	return q, nil
}

// Notify interrupts a concurrently-blocked Iterate call. Safe to call
// from any goroutine, any number of times; multiple notifications
// between two Iterate calls coalesce into a single pipe byte.
func (q *Queue) Notify() {
	if q.notified.CompareAndSwap(false, true) {
		q.wake.Notify()
	}
}

// Close releases the poller and wakeup pipe and stops the RunQueue's
// background workers. Not safe to call concurrently with Iterate.
// Returns ErrClosed if the queue is already closing or closed.
func (q *Queue) Close() error {
	if !q.state.TransitionAny([]LoopState{StateAwake, StateRunning, StateSleeping}, StateTerminating) {
		return ErrClosed
	}

	q.Run.Close()
	q.state.Store(StateTerminated)
	err1 := q.poller.Close()
	err2 := q.wake.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// FDInit binds w to q and fd. Must be called before the first FDWait.
func (q *Queue) FDInit(w *FDWaiter, fd int) {
	InitTask(&w.task, q.Run)
	w.owner = q
	w.fd = fd
	w.requested = 0
	w.ready = 0
	w.err = nil
	w.cb = nil
	w.onModList = false
	w.registered = false
	w.waiting = false
}

// FDWait arms w to invoke cb the next time any of events is observed
// ready on w's fd. Replaces any previously-armed callback and mask. A
// zero mask is equivalent to FDCancel: per the modification-FIFO
// contract, it completes cb immediately (on the next applyModifications
// pass) with ready==0 rather than actually waiting on anything. Arming
// a non-empty mask once the queue is terminating/terminated is rejected
// (the poller is being or has been torn down); a zero mask still goes
// through, same as FDCancel, so cleanup paths keep working during
// shutdown.
func (q *Queue) FDWait(w *FDWaiter, events IOEvents, cb func(*FDWaiter)) {
	if events != 0 && !q.state.CanAcceptWork() {
		return
	}
	q.mu.Lock()
	w.requested = events
	w.cb = cb
	if events != 0 {
		w.waiting = true
	}
	q.enqueueModLocked(w)
	q.mu.Unlock()
	q.Notify()
}

// FDRewait is FDWait under a name that matches how a caller typically
// uses it: re-arming the same waiter with a fresh mask from inside its
// own callback, once it has drained what it can without blocking.
func (q *Queue) FDRewait(w *FDWaiter, events IOEvents, cb func(*FDWaiter)) {
	q.FDWait(w, events, cb)
}

// FDCancel is equivalent to FDRewait(w, 0, ...) with w's existing
// callback: it de-arms w, and that callback still fires, once
// deregistration completes, with ready==0 and err==nil. A caller that
// wants no callback at all should clear w.cb via FDInit instead.
func (q *Queue) FDCancel(w *FDWaiter) {
	q.mu.Lock()
	w.requested = 0
	q.enqueueModLocked(w)
	q.mu.Unlock()
	q.Notify()
}

func (q *Queue) enqueueModLocked(w *FDWaiter) {
	if w.onModList {
		return
	}
	w.onModList = true
	q.modFIFO.Push(w)
}

// applyModifications drains the modification FIFO, translating each
// waiter's most recently requested mask into a Register/Modify/
// Unregister call. Caller holding q.mu is NOT required: this only
// touches data the poller itself synchronizes, and modFIFO is drained
// under q.mu internally.
//
// A requested==0 waiter goes through two passes rather than completing
// in one: the first deregisters (if it was registered) and clears
// waiting, then re-posts itself onto the FIFO; the second -- now with
// waiting already false -- finds nothing left to tear down and submits
// the completion task. Splitting it this way means a waiter re-armed
// with a non-empty mask in between (FDWait racing a pending FDCancel)
// is correctly registered/modified on its second visit instead of
// wrongly completing a cancel that no longer applies.
func (q *Queue) applyModifications() {
	for {
		q.mu.Lock()
		w, ok := q.modFIFO.Pop()
		if ok {
			w.onModList = false
		}
		q.mu.Unlock()
		if !ok {
			return
		}

		switch {
		case w.requested == 0 && (w.registered || w.waiting):
			if w.registered {
				_ = q.poller.Unregister(w.fd)
				w.registered = false
			}
			w.ready = 0
			w.waiting = false
			q.mu.Lock()
			q.enqueueModLocked(w)
			q.mu.Unlock()
		case w.requested == 0:
			q.deliver(w, 0, nil)
		case !w.registered:
			waiter := w
			if err := q.poller.Register(w.fd, w.requested, func(events IOEvents) {
				q.deliver(waiter, events, nil)
			}); err == nil {
				w.registered = true
			} else {
				q.deliver(waiter, 0, NewSysError("register", err))
			}
		default:
			if err := q.poller.Modify(w.fd, w.requested); err != nil {
				q.deliver(w, 0, NewSysError("modify", err))
			}
		}
	}
}

// deliver records the observed readiness/error on w and submits exactly
// one RunQueue task per delivery. If the callback does not fully drain
// the condition, it is expected to call FDWait again, which is how
// level-triggered readiness is intentionally re-observed on the next
// Iterate rather than busy-looping inside one.
func (q *Queue) deliver(w *FDWaiter, events IOEvents, err error) {
	w.ready = events
	w.err = err
	cb := w.cb
	if cb == nil {
		return
	}
	w.task.Exec(func(*Task) { cb(w) })
}

// Iterate runs one step of the reactor: apply pending FD waiter
// modifications, compute a poll timeout from the nearest armed timer,
// block in the poller (interruptible via Notify), fire expired timers,
// and finally drain the RunQueue. Returns ErrClosed once Close has been
// called.
func (q *Queue) Iterate() error {
	if q.state.IsTerminal() {
		return ErrClosed
	}

	q.state.TryTransition(StateAwake, StateRunning)
	q.applyModifications()

	q.mu.Lock()
	modDepth := q.modFIFO.Len()
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.Queue.UpdateModFIFO(modDepth)
		q.metrics.Queue.UpdateRunQueue(q.Run.Len())
		q.metrics.Queue.UpdateWaitQueue(q.Wait.Len())
	}

	timeout := q.Wait.NextDeadline()
	var timeoutMs int
	switch {
	case timeout < 0:
		timeoutMs = -1
	case timeout > int64(^uint32(0)>>1):
		timeoutMs = int(^uint32(0) >> 1)
	default:
		timeoutMs = int(timeout)
	}

	q.state.TryTransition(StateRunning, StateSleeping)
	_, err := q.poller.Poll(timeoutMs)
	q.state.TryTransition(StateSleeping, StateRunning)
	if err != nil {
		return NewSysError("poll", err)
	}

	q.Wait.Dispatch(0)
	q.Run.Dispatch(0)
	return nil
}
