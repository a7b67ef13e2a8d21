package skipset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkSkipAtomicInsert(t *testing.T) {
	t.Parallel()

	r := New()
	require.True(t, r.MarkSkip("job-1", "fp-a"))
	require.False(t, r.MarkSkip("job-1", "fp-a"))
	require.True(t, r.MarkSkip("job-1", "fp-b"))
}

func TestIsSkippedReflectsMarks(t *testing.T) {
	t.Parallel()

	r := New()
	require.False(t, r.IsSkipped("job-1", "fp-a"))
	r.MarkSkip("job-1", "fp-a")
	require.True(t, r.IsSkipped("job-1", "fp-a"))
	require.False(t, r.IsSkipped("job-2", "fp-a"))
}

func TestMergeSkips(t *testing.T) {
	t.Parallel()

	r := New()
	r.MergeSkips("job-1", []string{"fp-a", "fp-b"})
	require.True(t, r.IsSkipped("job-1", "fp-a"))
	require.True(t, r.IsSkipped("job-1", "fp-b"))
	require.False(t, r.MarkSkip("job-1", "fp-a"))
}

func TestDropClearsJob(t *testing.T) {
	t.Parallel()

	r := New()
	r.MarkSkip("job-1", "fp-a")
	r.Drop("job-1")
	require.False(t, r.IsSkipped("job-1", "fp-a"))
	require.True(t, r.MarkSkip("job-1", "fp-a"))
}

func TestMarkSkipConcurrentOnlyOneWinner(t *testing.T) {
	t.Parallel()

	r := New()
	const n = 50
	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = r.MarkSkip("job-1", "fp-shared")
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	require.Equal(t, 1, count)
}
