package ioq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAsyncSocketTCPLoopback(t *testing.T) {
	listenFD, err := Listen(unix.AF_INET, &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}, 1)
	require.NoError(t, err)
	defer unix.Close(listenFD)

	sa, err := unix.Getsockname(listenFD)
	require.NoError(t, err)
	addr := sa.(*unix.SockaddrInet4)

	q, err := NewQueue(0)
	require.NoError(t, err)
	defer q.Close()

	var server AsyncSocket
	AsyncSocketInit(&server, q, listenFD)

	accepted := make(chan struct{})
	server.Accept(func(s *AsyncSocket) {
		_, _, err := s.AcceptResult()
		require.NoError(t, err)
		close(accepted)
	})

	clientFD, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(clientFD)

	var client AsyncSocket
	AsyncSocketInit(&client, q, clientFD)

	connected := make(chan struct{})
	client.Connect(&unix.SockaddrInet4{Port: addr.Port, Addr: [4]byte{127, 0, 0, 1}}, func(s *AsyncSocket) {
		require.NoError(t, s.ConnectResult())
		close(connected)
	})

	sent := make(chan struct{})
	client.Send([]byte("ping"), func(s *AsyncSocket) {
		n, err := s.SendResult()
		require.NoError(t, err)
		require.Equal(t, 4, n)
		close(sent)
	})

	runUntil(t, q, accepted, connected, sent)

	_, _, acceptErr := server.AcceptResult()
	require.NoError(t, acceptErr)
}

// runUntil drives q.Iterate until every channel in want is closed or a
// deadline elapses.
func runUntil(t *testing.T, q *Queue, want ...chan struct{}) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, q.Iterate())
		allDone := true
		for _, c := range want {
			select {
			case <-c:
			default:
				allDone = false
			}
		}
		if allDone {
			return
		}
	}
	t.Fatal("operations did not all complete before the deadline")
}

func TestAsyncSocketRecvSeesHangupAsZeroBytes(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0, fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	q, err := NewQueue(0)
	require.NoError(t, err)
	defer q.Close()

	var sock AsyncSocket
	AsyncSocketInit(&sock, q, fds[0])

	done := make(chan struct{})
	buf := make([]byte, 16)
	sock.Recv(buf, func(s *AsyncSocket) {
		n, err := s.RecvResult()
		require.NoError(t, err)
		require.Zero(t, n)
		close(done)
	})

	require.NoError(t, unix.Close(fds[1]))
	runUntil(t, q, done)
}
