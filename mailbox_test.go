package ioq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMailboxWaitAny(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	var mb Mailbox
	MailboxInit(&mb, rq)

	var fired uint32
	mb.Wait(0b0110, func(m *Mailbox) { fired = m.Take(0xFFFFFFFF) })

	mb.Raise(0b0001) // does not satisfy the armed mask
	require.Zero(t, rq.Dispatch(0))

	mb.Raise(0b0100) // satisfies bit 2 of the armed mask
	require.EqualValues(t, 1, rq.Dispatch(0))
	require.EqualValues(t, 0b0101, fired)
}

func TestMailboxWaitAll(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	var mb Mailbox
	MailboxInit(&mb, rq)

	fireCount := 0
	mb.WaitAll(0b0011, func(*Mailbox) { fireCount++ })

	mb.Raise(0b0001)
	require.Zero(t, rq.Dispatch(0))
	require.Equal(t, 0, fireCount)

	mb.Raise(0b0010)
	require.EqualValues(t, 1, rq.Dispatch(0))
	require.Equal(t, 1, fireCount)
}

func TestMailboxRaiseBeforeWaitFiresImmediately(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	var mb Mailbox
	MailboxInit(&mb, rq)
	mb.Raise(0b0001)

	fired := false
	mb.Wait(0b0001, func(*Mailbox) { fired = true })

	require.False(t, fired, "callback must run via the RunQueue, not inline")
	require.EqualValues(t, 1, rq.Dispatch(0))
	require.True(t, fired)
}

func TestMailboxTakeClearsOnlyRequestedBits(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	var mb Mailbox
	MailboxInit(&mb, rq)
	mb.Raise(0b0111)

	before := mb.Take(0b0001)
	require.EqualValues(t, 0b0111, before)
	require.EqualValues(t, 0b0110, mb.Take(0)) // peek without clearing
}
