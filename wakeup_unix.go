//go:build linux || darwin

package ioq

import "golang.org/x/sys/unix"

// wakeupPipe is a one-byte-per-notify self-pipe: a Queue's blocking
// Poll call always has the read end registered, so any producer calling
// Notify from another goroutine (RunQueue.push, WaitQueue.Wait arming
// an earlier deadline, a completed background I/O op) reliably
// interrupts an in-progress or about-to-start Poll. The read end is
// non-blocking so Drain never stalls a callback.
type wakeupPipe struct {
	readFD, writeFD int
}

func newWakeupPipe() (*wakeupPipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return &wakeupPipe{readFD: fds[0], writeFD: fds[1]}, nil
}

// Notify writes a single byte, ignoring EAGAIN (the pipe already has a
// pending byte, so a waiter is already guaranteed to observe it).
func (w *wakeupPipe) Notify() {
	var b [1]byte
	_, _ = unix.Write(w.writeFD, b[:])
}

// Drain empties every pending notification byte after a wake.
func (w *wakeupPipe) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *wakeupPipe) Close() error {
	err1 := unix.Close(w.readFD)
	err2 := unix.Close(w.writeFD)
	if err1 != nil {
		return err1
	}
	return err2
}
