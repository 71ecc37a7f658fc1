package containers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceQueueBasics(t *testing.T) {
	q := NewSliceQueue[int]()

	_, ok := q.Pop()
	require.False(t, ok)

	q.Add(1)
	q.Add(2)
	require.Equal(t, 2, q.Size())

	head, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, 1, head)

	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)
	v, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, 0, q.Size())
}

func TestSliceQueueSignal(t *testing.T) {
	q := NewSliceQueue[string]()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-q.C
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, "hello", v)
	}()

	q.Add("hello")
	wg.Wait()
}

func TestSliceQueueConcurrent(t *testing.T) {
	q := NewSliceQueue[int]()

	const n = 1000
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Add(i)
		}
	}()

	got := 0
	go func() {
		defer wg.Done()
		for got < n {
			if _, ok := q.Pop(); ok {
				got++
			} else {
				<-q.C
			}
		}
	}()

	wg.Wait()
	require.Equal(t, n, got)
}
