package ioq

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunQueueForegroundDispatch(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	var count atomic.Int32
	var tasks [10]Task
	for i := range tasks {
		InitTask(&tasks[i], rq)
		tasks[i].Exec(func(*Task) { count.Add(1) })
	}

	n := rq.Dispatch(0)
	require.EqualValues(t, 10, n)
	require.EqualValues(t, 10, count.Load())

	// Nothing left to dispatch.
	require.Zero(t, rq.Dispatch(0))
}

func TestRunQueueBackgroundWorkers(t *testing.T) {
	rq, err := NewRunQueue(4)
	require.NoError(t, err)
	defer rq.Close()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	var tasks [n]Task
	for i := range tasks {
		InitTask(&tasks[i], rq)
		tasks[i].Exec(func(*Task) { wg.Done() })
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background workers did not drain the queue in time")
	}
}

func TestRunQueueWakeupHook(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	var woken atomic.Int32
	rq.SetWakeup(func() { woken.Add(1) })

	var task Task
	InitTask(&task, rq)
	task.Exec(func(*Task) {})
	require.EqualValues(t, 1, woken.Load())

	// A second push while still non-empty must not re-fire the hook.
	var task2 Task
	InitTask(&task2, rq)
	task2.Exec(func(*Task) {})
	require.EqualValues(t, 1, woken.Load())
}

func TestRunQueueDispatchLimit(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	var ran atomic.Int32
	var tasks [5]Task
	for i := range tasks {
		InitTask(&tasks[i], rq)
		tasks[i].Exec(func(*Task) { ran.Add(1) })
	}

	n := rq.Dispatch(2)
	require.EqualValues(t, 2, n)
	require.EqualValues(t, 2, ran.Load())

	n = rq.Dispatch(0)
	require.EqualValues(t, 3, n)
	require.EqualValues(t, 5, ran.Load())
}
