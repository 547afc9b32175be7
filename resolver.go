package ioq

import (
	"context"
	"net"
	"sync"
)

// ResolveRequest is an intrusive DNS lookup request: hostname/service
// are copied into the worker's local scope before the blocking call
// runs, so a caller is free to reuse or mutate the ResolveRequest's
// fields immediately after Ask returns -- mirroring the source
// resolver's work_req, which copies into fixed-size buffers under the
// FIFO lock before releasing it, rather than holding a live pointer into
// caller-owned memory across a getaddrinfo call that may block for
// seconds.
type ResolveRequest struct {
	task Task

	hostname string
	service  string

	mu        sync.Mutex
	cancelled bool
	queued    bool

	result []net.IPAddr
	err    error
	cb     func(*ResolveRequest)
}

// Resolver is a fixed pool of worker goroutines draining a FIFO of
// lookup requests, the Go analogue of the source's single adns worker
// thread (generalized to N workers via WithResolverWorkers).
type Resolver struct {
	rq      *RunQueue
	logger  Logger
	resolve func(ctx context.Context, host string) ([]net.IPAddr, error)

	mu      sync.Mutex
	fifo    []*ResolveRequest
	closed  bool
	wakeups []*Event
	quit    chan struct{}
	done    chan struct{}
}

// NewResolver starts a Resolver backed by rq with the configured number
// of worker goroutines (default 1).
func NewResolver(rq *RunQueue, opts ...Option) *Resolver {
	cfg := resolveOptions(opts)
	workers := cfg.resolverWorkers
	if workers == 0 {
		workers = 1
	}

	r := &Resolver{
		rq:      rq,
		logger:  cfg.logger,
		resolve: defaultResolve,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(int(workers))
	for i := uint(0); i < workers; i++ {
		ev := NewEvent()
		r.wakeups = append(r.wakeups, ev)
		go func(ev *Event) {
			defer wg.Done()
			r.workerLoop(ev)
		}(ev)
	}
	go func() {
		wg.Wait()
		close(r.done)
	}()

	return r
}

func defaultResolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// RequestInit binds req to rq. Must be called before the first Ask.
func RequestInit(req *ResolveRequest, rq *RunQueue) {
	InitTask(&req.task, rq)
	req.result = nil
	req.err = nil
	req.cancelled = false
	req.queued = false
}

// Ask queues a lookup for hostname, invoking cb on completion.
func (r *Resolver) Ask(req *ResolveRequest, hostname string, cb func(*ResolveRequest)) {
	req.mu.Lock()
	req.hostname = hostname
	req.cb = cb
	req.cancelled = false
	req.queued = true
	req.mu.Unlock()

	r.mu.Lock()
	wasEmpty := len(r.fifo) == 0
	r.fifo = append(r.fifo, req)
	r.mu.Unlock()

	if wasEmpty {
		for _, ev := range r.wakeups {
			ev.Raise()
		}
	}
}

// Cancel removes req from the Resolver if it has not yet been picked up
// by a worker, completing synchronously with no result and no error --
// no RunQueue hop happens in that case since the request was never
// handed to a worker. If a worker has already popped req off the FIFO
// (it is mid-lookup), Cancel only suppresses the eventual callback; the
// in-flight getaddrinfo-equivalent call still runs to completion in the
// background and its result is discarded.
func (r *Resolver) Cancel(req *ResolveRequest) {
	r.mu.Lock()
	for i, q := range r.fifo {
		if q == req {
			r.fifo = append(r.fifo[:i], r.fifo[i+1:]...)
			r.mu.Unlock()
			req.mu.Lock()
			req.queued = false
			req.mu.Unlock()
			return
		}
	}
	r.mu.Unlock()

	req.mu.Lock()
	req.cancelled = true
	req.mu.Unlock()
}

// Result returns the outcome of the most recently completed Ask.
func (req *ResolveRequest) Result() ([]net.IPAddr, error) {
	req.mu.Lock()
	defer req.mu.Unlock()
	return req.result, req.err
}

func (r *Resolver) workerLoop(wake *Event) {
	for {
		select {
		case <-r.quit:
			return
		default:
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		if len(r.fifo) == 0 {
			r.mu.Unlock()
			wake.Wait()
			wake.Clear()
			continue
		}
		req := r.fifo[0]
		r.fifo = r.fifo[1:]
		r.mu.Unlock()

		// Copy the fields the blocking call needs before releasing any
		// lock on req, so Ask/Cancel on the same req from the caller's
		// goroutine never races this lookup.
		req.mu.Lock()
		host := req.hostname
		cancelled := req.cancelled
		req.queued = false
		req.mu.Unlock()

		if cancelled {
			continue
		}

		addrs, err := r.resolve(context.Background(), host)

		req.mu.Lock()
		if req.cancelled {
			req.mu.Unlock()
			continue
		}
		req.result = addrs
		if err != nil {
			req.err = &ResolveError{Host: host, Err: err}
		} else {
			req.err = nil
		}
		cb := req.cb
		req.mu.Unlock()

		req.task.Exec(func(*Task) { cb(req) })
	}
}

// Close stops every worker goroutine and waits for them to exit.
// Requests still in the FIFO are dropped without firing their
// callbacks, matching Cancel's synchronous-no-callback behavior for
// never-picked-up requests.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	close(r.quit)
	for _, ev := range r.wakeups {
		ev.Raise()
	}
	<-r.done
}
