package ioq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestQueuePipeRoundTrip exercises a full readiness-driven round trip: a
// writer goroutine writes to one end of a pipe after a short delay, and
// Iterate must observe the read end becoming readable and deliver the
// bytes to the armed FDWaiter.
func TestQueuePipeRoundTrip(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	q, err := NewQueue(0)
	require.NoError(t, err)
	defer q.Close()

	var waiter FDWaiter
	q.FDInit(&waiter, fds[0])

	received := make(chan []byte, 1)
	var armWait func()
	armWait = func() {
		q.FDWait(&waiter, EventRead, func(w *FDWaiter) {
			buf := make([]byte, 64)
			n, rerr := unix.Read(w.fd, buf)
			if rerr == unix.EAGAIN {
				armWait()
				return
			}
			require.NoError(t, rerr)
			received <- buf[:n]
		})
	}
	armWait()

	go func() {
		time.Sleep(10 * time.Millisecond)
		unix.Write(fds[1], []byte("hello"))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := q.Iterate(); err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		select {
		case got := <-received:
			require.Equal(t, "hello", string(got))
			return
		default:
		}
	}
	t.Fatal("did not observe the written bytes before the deadline")
}

func TestQueueTimerDrivesIterate(t *testing.T) {
	q, err := NewQueue(0)
	require.NoError(t, err)
	defer q.Close()

	fired := make(chan struct{})
	var timer Timer
	q.Wait.TimerInit(&timer)
	q.Wait.Wait(&timer, 5, func(*Timer) { close(fired) })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, q.Iterate())
		select {
		case <-fired:
			return
		default:
		}
	}
	t.Fatal("timer never fired")
}

func TestQueueNotifyInterruptsBlockedIterate(t *testing.T) {
	q, err := NewQueue(0)
	require.NoError(t, err)
	defer q.Close()

	var task Task
	InitTask(&task, q.Run)

	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		close(started)
		// No timers armed: Iterate blocks in the poller until Notify
		// wakes it.
		require.NoError(t, q.Iterate())
		close(finished)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	task.Exec(func(*Task) {})
	q.Notify()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Iterate did not return after Notify")
	}
}
