package ioq

import "sync"

// afileOp is one pending read or write: the buffer, how much was
// transferred, the outcome, and the callback to notify.
type afileOp struct {
	buf      []byte
	size     int
	err      error
	cb       func(*AsyncFile)
	inFlight bool
	cancel   bool
}

// AsyncFile performs non-blocking-style read/write against a regular
// file descriptor, backed by a per-operation goroutine rather than
// epoll (regular files are always poll-ready on Linux, so readiness
// multiplexing cannot express file I/O backpressure the way it does for
// sockets/pipes). Completion is joined back onto the owning Queue's
// RunQueue exactly like every other component, so a caller never
// observes which path delivered the callback.
//
// Cancellation is cooperative: CancelRead/CancelWrite prevent a callback that hasn't
// yet fired from firing, but a read/write syscall already in flight on
// its goroutine runs to completion; its result is simply discarded.
type AsyncFile struct {
	readTask  Task
	writeTask Task
	rq        *RunQueue
	fd        int

	mu    sync.Mutex
	read  afileOp
	write afileOp
}

// AsyncFileInit binds f to rq and fd. fd is assumed already open in
// whatever mode the caller intends to use (O_RDONLY, O_WRONLY, O_RDWR).
func AsyncFileInit(f *AsyncFile, rq *RunQueue, fd int) {
	InitTask(&f.readTask, rq)
	InitTask(&f.writeTask, rq)
	f.rq = rq
	f.fd = fd
	f.read = afileOp{}
	f.write = afileOp{}
}

// Read issues a single read into buf, invoking cb with the result once
// available. The read outcome is recorded exclusively in f's read
// record -- a distinct record from Write's, so a file with both a read
// and a write outstanding never has one operation's outcome clobber the
// other's. Read and Write each complete through their own Task
// (readTask/writeTask): unlike AsyncSocket's CA/SEND/RECV, a concurrent
// read and write have no required firing order relative to each other,
// so there is nothing to batch onto one shared task -- doing so would
// only risk one completion's Exec overwriting the other's pending
// callback on a Task that both goroutines contend for.
func (f *AsyncFile) Read(buf []byte, cb func(*AsyncFile)) {
	f.mu.Lock()
	f.read = afileOp{buf: buf, cb: cb, inFlight: true}
	f.mu.Unlock()

	go func() {
		n, err := readFD(f.fd, buf)

		f.mu.Lock()
		if !f.read.inFlight || f.read.cancel {
			f.mu.Unlock()
			return
		}
		f.read.inFlight = false
		f.read.size = n
		if err != nil {
			f.read.err = NewSysError("read", err)
		} else {
			f.read.err = nil
		}
		done := f.read.cb
		f.mu.Unlock()

		f.readTask.Exec(func(*Task) { done(f) })
	}()
}

// Write issues a single write of buf, invoking cb once available. The
// write outcome is recorded exclusively in f's write record: earlier
// revisions of this logic wrote a completed write's size/error into the
// read record by mistake, silently corrupting any read outstanding on
// the same file at the same time. Recording into the write record only
// is the fix.
func (f *AsyncFile) Write(buf []byte, cb func(*AsyncFile)) {
	f.mu.Lock()
	f.write = afileOp{buf: buf, cb: cb, inFlight: true}
	f.mu.Unlock()

	go func() {
		n, err := writeFD(f.fd, buf)

		f.mu.Lock()
		if !f.write.inFlight || f.write.cancel {
			f.mu.Unlock()
			return
		}
		f.write.inFlight = false
		f.write.size = n
		if err != nil {
			f.write.err = NewSysError("write", err)
		} else {
			f.write.err = nil
		}
		done := f.write.cb
		f.mu.Unlock()

		f.writeTask.Exec(func(*Task) { done(f) })
	}()
}

// ReadResult returns the outcome of the most recently completed Read.
func (f *AsyncFile) ReadResult() (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read.size, f.read.err
}

// WriteResult returns the outcome of the most recently completed Write.
func (f *AsyncFile) WriteResult() (n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write.size, f.write.err
}

// CancelRead suppresses the callback of a read not yet completed.
func (f *AsyncFile) CancelRead() {
	f.mu.Lock()
	f.read.cancel = true
	f.mu.Unlock()
}

// CancelWrite suppresses the callback of a write not yet completed.
func (f *AsyncFile) CancelWrite() {
	f.mu.Lock()
	f.write.cancel = true
	f.mu.Unlock()
}

// Close closes the underlying fd. Any read/write goroutine in flight
// observes the resulting error from its syscall and discards it per the
// cancellation contract above if CancelRead/CancelWrite was also called; otherwise the
// error is delivered normally.
func (f *AsyncFile) Close() error {
	return closeFD(f.fd)
}
