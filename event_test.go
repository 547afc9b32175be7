package ioq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventWaitUnblocksOnRaise(t *testing.T) {
	e := NewEvent()
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Raise")
	case <-time.After(20 * time.Millisecond):
	}

	e.Raise()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Raise")
	}
}

func TestEventClearThenWait(t *testing.T) {
	e := NewEvent()
	e.Raise()
	require.True(t, e.IsSet())
	e.Clear()
	require.False(t, e.IsSet())
}

func TestEventWaitTimeout(t *testing.T) {
	e := NewEvent()
	require.False(t, e.WaitTimeout(10))

	e.Raise()
	require.True(t, e.WaitTimeout(10))
}
