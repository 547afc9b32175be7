package ioq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkedFIFOFIFOOrder(t *testing.T) {
	q := newChunkedFIFO[int]()
	for i := 0; i < chunkSize*3+7; i++ {
		q.Push(i)
	}
	require.Equal(t, chunkSize*3+7, q.Len())

	for i := 0; i < chunkSize*3+7; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.Pop()
	require.False(t, ok)
	require.Zero(t, q.Len())
}

func TestChunkedFIFOInterleavedPushPop(t *testing.T) {
	q := newChunkedFIFO[string]()
	q.Push("a")
	q.Push("b")
	v, _ := q.Pop()
	require.Equal(t, "a", v)
	q.Push("c")
	v, _ = q.Pop()
	require.Equal(t, "b", v)
	v, _ = q.Pop()
	require.Equal(t, "c", v)
	require.Zero(t, q.Len())
}

func TestChunkedFIFOPointerElements(t *testing.T) {
	q := newChunkedFIFO[*Task]()
	a, b := &Task{}, &Task{}
	q.Push(a)
	q.Push(b)
	v, ok := q.Pop()
	require.True(t, ok)
	require.Same(t, a, v)
}
