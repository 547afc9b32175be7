package ioq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitQueueFiresInDeadlineOrder(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()
	wq := NewWaitQueue(rq)

	var order []int
	var timers [3]Timer
	wq.TimerInit(&timers[0])
	wq.TimerInit(&timers[1])
	wq.TimerInit(&timers[2])

	wq.Wait(&timers[0], 30, func(*Timer) { order = append(order, 0) })
	wq.Wait(&timers[1], 10, func(*Timer) { order = append(order, 1) })
	wq.Wait(&timers[2], 20, func(*Timer) { order = append(order, 2) })

	deadline := time.Now().Add(time.Second)
	for len(order) < 3 && time.Now().Before(deadline) {
		wq.Dispatch(0)
		rq.Dispatch(0)
		time.Sleep(time.Millisecond)
	}

	require.Equal(t, []int{1, 2, 0}, order)
}

func TestWaitQueueCancel(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()
	wq := NewWaitQueue(rq)

	var fired bool
	var timer Timer
	wq.TimerInit(&timer)
	wq.Wait(&timer, 5, func(*Timer) { fired = true })

	require.False(t, wq.Cancelled(&timer))
	wq.Cancel(&timer)
	require.True(t, wq.Cancelled(&timer))

	time.Sleep(20 * time.Millisecond)
	wq.Dispatch(0)
	rq.Dispatch(0)
	require.True(t, fired)
}

func TestWaitQueueNextDeadlineContract(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()
	wq := NewWaitQueue(rq)

	require.EqualValues(t, -1, wq.NextDeadline())

	var timer Timer
	wq.TimerInit(&timer)
	wq.Wait(&timer, 50, func(*Timer) {})

	remaining := wq.NextDeadline()
	require.GreaterOrEqual(t, remaining, int64(0))
	require.LessOrEqual(t, remaining, int64(50))

	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 0, wq.NextDeadline())
}

func TestWaitQueueReschedule(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()
	wq := NewWaitQueue(rq)

	fireCount := 0
	var timer Timer
	wq.TimerInit(&timer)
	wq.Wait(&timer, 1000, func(*Timer) { fireCount++ })
	wq.Reschedule(&timer, 5)

	deadline := time.Now().Add(time.Second)
	for fireCount == 0 && time.Now().Before(deadline) {
		wq.Dispatch(0)
		rq.Dispatch(0)
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, fireCount)
}
