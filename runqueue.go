package ioq

import (
	"fmt"
	"sync"
	"time"
)

// WakeupFunc is called whenever a RunQueue or WaitQueue transitions from
// empty to non-empty (or, for a WaitQueue, whenever the earliest
// deadline changes). An owning Queue installs one of these on its
// embedded RunQueue/WaitQueue so any producer's wakeup routes back to
// the blocking Iterate primitive -- see §9's "cyclic structures" note:
// this is a non-owning callback reference, not a strong back-pointer.
type WakeupFunc func()

type worker struct {
	wakeup *Event
	done   chan struct{}
}

// RunQueue is a FIFO of ready callbacks drained either by the caller
// (foreground Dispatch) or by a fixed pool of worker goroutines
// (background mode, when NewRunQueue is given workers > 0).
type RunQueue struct {
	mu      sync.Mutex
	fifo    *chunkedFIFO[*Task]
	quit    bool
	workers []*worker
	wakeup  WakeupFunc
	logger  Logger
	metrics *Metrics
}

// NewRunQueue allocates a RunQueue with the given number of background
// workers (0 means foreground-only: Dispatch must be called by the
// owner to make progress). Unlike runq_init, there is no partial-start
// rollback: goroutine creation in Go cannot fail, so the returned error
// is always nil.
func NewRunQueue(workers uint, opts ...Option) (*RunQueue, error) {
	cfg := resolveOptions(opts)
	rq := &RunQueue{
		fifo:    newChunkedFIFO[*Task](),
		logger:  cfg.logger,
		metrics: cfg.metrics,
	}
	for i := uint(0); i < workers; i++ {
		w := &worker{wakeup: NewEvent(), done: make(chan struct{})}
		rq.workers = append(rq.workers, w)
		go rq.workerLoop(w)
	}
	if rq.logger != nil && rq.logger.Enabled(LevelDebug) {
		rq.logger.Log(Entry{Level: LevelDebug, Category: "runqueue", Message: fmt.Sprintf("run queue started with %d background workers", workers)})
	}
	return rq, nil
}

// SetWakeup installs the wakeup hook called on the empty->non-empty
// transition. Must be called before any concurrent use begins.
func (rq *RunQueue) SetWakeup(fn WakeupFunc) {
	rq.wakeup = fn
}

func (rq *RunQueue) runOne() int {
	rq.mu.Lock()
	if rq.quit {
		rq.mu.Unlock()
		return -1
	}
	t, ok := rq.fifo.Pop()
	rq.mu.Unlock()
	if !ok {
		return 0
	}
	if rq.metrics == nil {
		t.fn(t)
		return 1
	}
	start := time.Now()
	t.fn(t)
	rq.metrics.Latency.Record(time.Since(start))
	rq.metrics.RecordDispatch()
	return 1
}

func (rq *RunQueue) workerLoop(w *worker) {
	defer close(w.done)
	for {
		w.wakeup.Wait()
		w.wakeup.Clear()
		for {
			r := rq.runOne()
			if r < 0 {
				return
			}
			if r == 0 {
				break
			}
		}
	}
}

// push appends t to the FIFO, waking workers and the wakeup hook on the
// empty->non-empty transition. Called by Task.Exec.
func (rq *RunQueue) push(t *Task) {
	rq.mu.Lock()
	wasEmpty := rq.fifo.Len() == 0
	rq.fifo.Push(t)
	rq.mu.Unlock()

	if wasEmpty {
		for _, w := range rq.workers {
			w.wakeup.Raise()
		}
		if rq.wakeup != nil {
			rq.wakeup()
		}
	}
}

// Dispatch drains up to limit ready tasks on the caller's goroutine (0
// means unlimited). Returns the number dispatched.
func (rq *RunQueue) Dispatch(limit uint) uint {
	var count uint
	for limit == 0 || count < limit {
		if rq.runOne() <= 0 {
			break
		}
		count++
	}
	return count
}

// Len reports the number of tasks currently queued and not yet
// dispatched.
func (rq *RunQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.fifo.Len()
}

// Close requests quit, wakes every worker, and joins them.
func (rq *RunQueue) Close() {
	rq.mu.Lock()
	rq.quit = true
	rq.mu.Unlock()

	for _, w := range rq.workers {
		w.wakeup.Raise()
	}
	for _, w := range rq.workers {
		<-w.done
	}
}
