package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePushPopFIFO(t *testing.T) {
	t.Parallel()

	q, err := New[int](Config{})
	require.NoError(t, err)

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3))

	for _, want := range []int{1, 2, 3} {
		got, err := q.Pop(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q, err := New[string](Config{})
	require.NoError(t, err)

	result := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		item, err := q.Pop(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push("late"))

	select {
	case err := <-errCh:
		t.Fatalf("Pop() error = %v", err)
	case got := <-result:
		require.Equal(t, "late", got)
	case <-time.After(time.Second):
		t.Fatal("pop did not return pushed item")
	}
}

func TestQueuePopCanceled(t *testing.T) {
	t.Parallel()

	q, err := New[int](Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = q.Pop(ctx)
	require.Error(t, err)
}

func TestQueueSpillsAboveThreshold(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	q, err := New[int](Config{SpillThreshold: 1, SpillDir: dir})
	require.NoError(t, err)

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3))
	require.Equal(t, 3, q.Len())

	for _, want := range []int{1, 2, 3} {
		got, err := q.Pop(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Equal(t, 0, q.Len())
}

func TestQueueClearRemovesSpillFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	q, err := New[int](Config{SpillThreshold: 0, SpillDir: dir})
	require.NoError(t, err)
	q.threshold = 0 // force every push to spill

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Clear())
	require.Equal(t, 0, q.Len())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestQueueMultipleWaitersDoNotStarve(t *testing.T) {
	t.Parallel()

	q, err := New[int](Config{})
	require.NoError(t, err)

	results := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			item, err := q.Pop(context.Background())
			require.NoError(t, err)
			results <- item
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case got := <-results:
			seen[got] = true
		case <-time.After(time.Second):
			t.Fatal("waiter starved: did not receive pushed item")
		}
	}
	require.True(t, seen[1])
	require.True(t, seen[2])
}
