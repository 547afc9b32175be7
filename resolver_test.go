package ioq

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolverAskCompletesViaRunQueue(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	r := NewResolver(rq, WithResolverWorkers(1))
	defer r.Close()
	r.resolve = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("127.0.0.1")}}, nil
	}

	var req ResolveRequest
	RequestInit(&req, rq)

	done := make(chan struct{})
	r.Ask(&req, "localhost", func(req *ResolveRequest) {
		addrs, err := req.Result()
		require.NoError(t, err)
		require.Len(t, addrs, 1)
		close(done)
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rq.Dispatch(0)
		select {
		case <-done:
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("resolve callback never ran")
}

func TestResolverCancelBeforePickupIsSynchronous(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	r := NewResolver(rq, WithResolverWorkers(0))
	defer r.Close()

	block := make(chan struct{})
	r.resolve = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		<-block
		return nil, nil
	}

	var req ResolveRequest
	RequestInit(&req, rq)

	fired := false
	r.Ask(&req, "example.com", func(*ResolveRequest) { fired = true })
	r.Cancel(&req)

	close(block)
	require.Zero(t, rq.Dispatch(0))
	require.False(t, fired)
}

func TestResolverErrorIsWrapped(t *testing.T) {
	rq, err := NewRunQueue(0)
	require.NoError(t, err)
	defer rq.Close()

	r := NewResolver(rq, WithResolverWorkers(1))
	defer r.Close()
	wantErr := &net.DNSError{Err: "no such host", Name: "nope.invalid"}
	r.resolve = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return nil, wantErr
	}

	var req ResolveRequest
	RequestInit(&req, rq)

	done := make(chan struct{})
	r.Ask(&req, "nope.invalid", func(req *ResolveRequest) {
		_, err := req.Result()
		var resolveErr *ResolveError
		require.ErrorAs(t, err, &resolveErr)
		require.Equal(t, "nope.invalid", resolveErr.Host)
		close(done)
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rq.Dispatch(0)
		select {
		case <-done:
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("resolve callback never ran")
}
