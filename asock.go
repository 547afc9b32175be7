package ioq

import (
	"sync"

	"golang.org/x/sys/unix"
)

// asockOp is one pending connect/accept, send, or recv operation.
type asockOp struct {
	buf     []byte
	size    int
	addr    unix.Sockaddr
	err     error
	cb      func(*AsyncSocket)
	fd       int // accept's resulting fd
	pending  bool
	isAccept bool
}

// AsyncSocket multiplexes a non-blocking socket fd's connect/accept,
// send, and recv operations over a single Queue registration. At most
// one of each category may be pending at a time; all three categories
// may be pending simultaneously (e.g. a send and a recv both queued
// while a connect is still completing). A single readiness event can
// satisfy more than one category at once, so every completion arising
// from one dispatch pass is batched onto one shared dispatchTask and
// fires in a fixed CA, then SEND, then RECV order -- matching the
// source socket driver's dispatch_func -- rather than each category
// racing onto the RunQueue independently. That ordering is the entire
// point: with background RunQueue workers, three independently queued
// tasks can be popped by three different goroutines and run in any
// order, silently breaking the CA-before-SEND-before-RECV contract a
// caller is entitled to rely on.
type AsyncSocket struct {
	owner *Queue
	fd    int

	waiter FDWaiter

	mu   sync.Mutex
	ca   asockOp
	send asockOp
	recv asockOp

	dispatchTask  Task
	dispatchQueue []func()
}

// AsyncSocketInit binds s to q and fd. fd must already be a
// non-blocking socket (SOCK_NONBLOCK or a post-creation
// unix.SetNonblock call).
func AsyncSocketInit(s *AsyncSocket, q *Queue, fd int) {
	s.owner = q
	s.fd = fd
	q.FDInit(&s.waiter, fd)
	InitTask(&s.dispatchTask, q.Run)
	s.ca = asockOp{}
	s.send = asockOp{}
	s.recv = asockOp{}
	s.dispatchQueue = nil
}

// submitDispatch appends fns to the pending dispatch batch and, only on
// the empty->non-empty transition, submits dispatchTask to the
// RunQueue. Later calls before the task fires just extend the same
// batch, so two completions that race onto this method from different
// goroutines still end up invoked by one task instead of silently
// replacing each other's pending callback (a Task can only be queued
// once at a time).
func (s *AsyncSocket) submitDispatch(fns ...func()) {
	if len(fns) == 0 {
		return
	}
	s.mu.Lock()
	wasEmpty := len(s.dispatchQueue) == 0
	s.dispatchQueue = append(s.dispatchQueue, fns...)
	s.mu.Unlock()
	if wasEmpty {
		s.dispatchTask.Exec(func(*Task) { s.runDispatch() })
	}
}

// runDispatch drains whatever has accumulated in the dispatch batch --
// possibly more than was present when the task was submitted -- and
// runs each in order.
func (s *AsyncSocket) runDispatch() {
	s.mu.Lock()
	fns := s.dispatchQueue
	s.dispatchQueue = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Connect begins a non-blocking connect. cb fires once the connection
// either completes or fails; call ConnectResult from inside cb to learn
// which.
func (s *AsyncSocket) Connect(addr unix.Sockaddr, cb func(*AsyncSocket)) {
	err := unix.Connect(s.fd, addr)
	if err == nil {
		s.mu.Lock()
		s.ca = asockOp{err: nil}
		s.mu.Unlock()
		s.submitDispatch(func() { cb(s) })
		return
	}
	if err != unix.EINPROGRESS && err != unix.EAGAIN {
		s.mu.Lock()
		s.ca = asockOp{err: NewSysError("connect", err)}
		s.mu.Unlock()
		s.submitDispatch(func() { cb(s) })
		return
	}

	s.mu.Lock()
	s.ca = asockOp{cb: cb, pending: true}
	s.mu.Unlock()
	s.rearm()
}

// Accept arms cb to fire the next time a connection is ready to be
// accepted on a listening socket.
func (s *AsyncSocket) Accept(cb func(*AsyncSocket)) {
	s.mu.Lock()
	s.ca = asockOp{cb: cb, pending: true, isAccept: true}
	s.mu.Unlock()
	s.rearm()
}

// Send attempts to write buf; if the socket is not currently writable
// the send is queued to complete once it is.
func (s *AsyncSocket) Send(buf []byte, cb func(*AsyncSocket)) {
	n, err := unix.Write(s.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		s.mu.Lock()
		s.send = asockOp{buf: buf, cb: cb, pending: true}
		s.mu.Unlock()
		s.rearm()
		return
	}

	s.mu.Lock()
	if err != nil {
		s.send = asockOp{err: NewSysError("send", err)}
	} else {
		s.send = asockOp{size: n}
	}
	s.mu.Unlock()
	s.submitDispatch(func() { cb(s) })
}

// Recv attempts to read into buf; if no data is currently available the
// recv is queued to complete once the socket is readable or the peer
// hangs up. A hangup with no data pending completes identically to a
// zero-length read with no error -- the source driver's wait_recv
// treats POLLHUP exactly like POLLIN for this purpose, since on some
// platforms a peer close is signalled only via hangup, never via a
// readable event.
func (s *AsyncSocket) Recv(buf []byte, cb func(*AsyncSocket)) {
	n, err := unix.Read(s.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		s.mu.Lock()
		s.recv = asockOp{buf: buf, cb: cb, pending: true}
		s.mu.Unlock()
		s.rearm()
		return
	}

	s.mu.Lock()
	if err != nil {
		s.recv = asockOp{err: NewSysError("recv", err)}
	} else {
		s.recv = asockOp{size: n}
	}
	s.mu.Unlock()
	s.submitDispatch(func() { cb(s) })
}

// rearm recomputes the union of event masks across every pending
// category and re-registers the fd waiter for it.
func (s *AsyncSocket) rearm() {
	s.mu.Lock()
	var mask IOEvents
	if s.ca.pending {
		if s.ca.isAccept {
			mask |= EventRead
		} else {
			mask |= EventRead | EventWrite
		}
	}
	if s.send.pending {
		mask |= EventWrite
	}
	if s.recv.pending {
		mask |= EventRead
	}
	s.mu.Unlock()

	s.owner.FDWait(&s.waiter, mask, func(w *FDWaiter) { s.onReady(w.ready) })
}

// onReady services every satisfied pending category in fixed CA, SEND,
// RECV order, collecting the callback of each that actually completes
// (as opposed to staying pending on EAGAIN) and batching all of them
// onto a single dispatchTask submission so they fire in that order
// regardless of how many RunQueue worker goroutines are draining it.
func (s *AsyncSocket) onReady(events IOEvents) {
	s.mu.Lock()
	caPending := s.ca.pending
	sendPending := s.send.pending
	recvPending := s.recv.pending
	s.mu.Unlock()

	var fns []func()
	if caPending && events&(EventRead|EventWrite|EventError) != 0 {
		if fn, ok := s.completeCA(); ok {
			fns = append(fns, fn)
		}
	}
	if sendPending && events&(EventWrite|EventError) != 0 {
		if fn, ok := s.completeSend(); ok {
			fns = append(fns, fn)
		}
	}
	if recvPending && events&(EventRead|EventHangup|EventError) != 0 {
		if fn, ok := s.completeRecv(); ok {
			fns = append(fns, fn)
		}
	}
	s.submitDispatch(fns...)

	s.mu.Lock()
	stillPending := s.ca.pending || s.send.pending || s.recv.pending
	s.mu.Unlock()
	if stillPending {
		s.rearm()
	} else if events != 0 {
		// Nothing left to wait for: deregister rather than leave the fd
		// armed, which would otherwise re-deliver a no-op readiness
		// callback on every Iterate for as long as the fd stays readable.
		// A call with no events is the completion of that cancel (or of
		// Close's) and needs no further cancel.
		s.owner.FDCancel(&s.waiter)
	}
}

// completeCA attempts to finish a pending connect/accept. ok is false
// if it must stay pending (EAGAIN); in that case fn is nil and the
// caller leaves the category armed for the next readiness event.
func (s *AsyncSocket) completeCA() (fn func(), ok bool) {
	s.mu.Lock()
	cb := s.ca.cb
	isAccept := s.ca.isAccept
	s.mu.Unlock()
	if cb == nil {
		return nil, false
	}

	if isAccept {
		nfd, sa, err := acceptNonblocking(s.fd)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, false // stays pending, re-armed by onReady
		}
		s.mu.Lock()
		if err != nil {
			s.ca = asockOp{err: NewSysError("accept", err)}
		} else {
			s.ca = asockOp{fd: nfd, addr: sa}
		}
		s.mu.Unlock()
		return func() { cb(s) }, true
	}

	var sockErr error
	if errno, gerr := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR); gerr == nil && errno != 0 {
		sockErr = NewSysError("connect", unix.Errno(errno))
	}

	s.mu.Lock()
	s.ca = asockOp{err: sockErr}
	s.mu.Unlock()
	return func() { cb(s) }, true
}

// completeSend attempts to finish a pending send; see completeCA for
// the ok contract.
func (s *AsyncSocket) completeSend() (fn func(), ok bool) {
	s.mu.Lock()
	buf, cb := s.send.buf, s.send.cb
	s.mu.Unlock()
	if cb == nil {
		return nil, false
	}

	n, err := unix.Write(s.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil, false // stays pending, re-armed by the caller in onReady
	}

	s.mu.Lock()
	if err != nil {
		s.send = asockOp{err: NewSysError("send", err)}
	} else {
		s.send = asockOp{size: n}
	}
	s.mu.Unlock()
	return func() { cb(s) }, true
}

// completeRecv attempts to finish a pending recv; see completeCA for
// the ok contract.
func (s *AsyncSocket) completeRecv() (fn func(), ok bool) {
	s.mu.Lock()
	buf, cb := s.recv.buf, s.recv.cb
	s.mu.Unlock()
	if cb == nil {
		return nil, false
	}

	n, err := unix.Read(s.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil, false
	}

	s.mu.Lock()
	if err != nil {
		s.recv = asockOp{err: NewSysError("recv", err)}
	} else {
		s.recv = asockOp{size: n}
	}
	s.mu.Unlock()
	return func() { cb(s) }, true
}

// ConnectResult returns the outcome of the most recently completed
// Connect.
func (s *AsyncSocket) ConnectResult() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ca.err
}

// AcceptResult returns the fd and peer address of the most recently
// completed Accept, or the error if it failed.
func (s *AsyncSocket) AcceptResult() (int, unix.Sockaddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ca.fd, s.ca.addr, s.ca.err
}

// SendResult returns the outcome of the most recently completed Send.
func (s *AsyncSocket) SendResult() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send.size, s.send.err
}

// RecvResult returns the outcome of the most recently completed Recv.
func (s *AsyncSocket) RecvResult() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recv.size, s.recv.err
}

// Close cancels any pending waits and closes the underlying fd.
func (s *AsyncSocket) Close() error {
	s.owner.FDCancel(&s.waiter)
	return unix.Close(s.fd)
}

// Listen creates, binds, and begins listening on a non-blocking TCP
// socket for the given address family (AF_INET or AF_INET6) -- the
// source library hard-codes IPv4; this is generalized to whatever
// family sa belongs to, since nothing else about the driver logic is
// address-family specific.
func Listen(domain int, sa unix.Sockaddr, backlog int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, NewSysError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, NewSysError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, NewSysError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, NewSysError("listen", err)
	}
	return fd, nil
}

// acceptNonblocking is used by Accept's readiness callback; split out
// so AcceptResult-style consumers can call it directly in tests without
// going through the full async path.
func acceptNonblocking(listenFD int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(listenFD)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, nil, err
	}
	return nfd, sa, nil
}
