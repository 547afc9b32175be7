// Package ioq is a portable asynchronous I/O and concurrency runtime core.
//
// It schedules small user callbacks in response to three classes of
// events: readiness of OS I/O handles, timer expiry, and cross-thread
// flag signalling. Four subsystems make up the core:
//
//   - [RunQueue]: a FIFO of ready callbacks, drained by the caller or by a
//     fixed pool of worker goroutines.
//   - [WaitQueue]: a deadline-ordered set of timers that become runnable
//     on a RunQueue when their deadline passes.
//   - [Queue] (the I/O queue): owns one RunQueue and one WaitQueue, drives
//     an OS readiness multiplexer (epoll/kqueue), and exposes the single
//     loop-iteration primitive, [Queue.Iterate].
//   - [Mailbox]: a 32-flag asynchronous signal object. Multiple producers
//     raise flag bits; a single consumer asynchronously waits for "any"
//     or "all" of a mask to become set.
//
// [AsyncFile] and [AsyncSocket] are built strictly on top of [Queue] and
// exercise every rule of its FD-waiter contract. [Resolver] sketches a
// worker-thread-backed DNS request object on top of [RunQueue].
//
// # Platform support
//
// The readiness multiplexer is epoll on Linux and kqueue on Darwin,
// matching the level-triggered POSIX model this package specifies as
// canonical.
//
// # Thread safety
//
// [RunQueue.Exec], [WaitQueue.Wait]/[WaitQueue.Cancel]/[WaitQueue.Reschedule],
// and the FD-waiter operations on [Queue] are all safe to call
// concurrently from any goroutine. Task, Timer, FDWaiter and Mailbox
// objects are intrusive: callers allocate them and the runtime only
// borrows them for the duration of an arm; nothing here allocates a
// wrapper around caller state.
//
// # Usage
//
//	q, err := ioq.NewQueue(0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	var t ioq.Timer
//	q.Wait.TimerInit(&t)
//	q.Wait.Wait(&t, 100, func(t *ioq.Timer) {
//	    fmt.Println("fired")
//	})
//
//	for {
//	    if err := q.Iterate(); err != nil {
//	        break
//	    }
//	}
package ioq
