package guard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunBatchesGroupsSequentially(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	var mu sync.Mutex
	started := map[int]time.Time{}
	finished := map[int]time.Time{}

	failed := RunBatches(context.Background(), items, 3, 0, func(ctx context.Context, n int) error {
		mu.Lock()
		started[n] = time.Now()
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		finished[n] = time.Now()
		mu.Unlock()
		return nil
	})

	require.Zero(t, failed)
	require.Len(t, started, 7)
	require.Len(t, finished, 7)

	// Groups are (1,2,3), (4,5,6), (7): a later group must not start before
	// every member of the previous group finished.
	groupEnd := func(members ...int) time.Time {
		var end time.Time
		for _, m := range members {
			if finished[m].After(end) {
				end = finished[m]
			}
		}
		return end
	}
	firstEnd := groupEnd(1, 2, 3)
	for _, n := range []int{4, 5, 6, 7} {
		require.False(t, started[n].Before(firstEnd), "item %d started before group 1 settled", n)
	}
	secondEnd := groupEnd(4, 5, 6)
	require.False(t, started[7].Before(secondEnd), "item 7 started before group 2 settled")
}

func TestRunBatchesIsolatesFailures(t *testing.T) {
	items := []int{1, 2, 3}
	var mu sync.Mutex
	completed := map[int]bool{}

	failed := RunBatches(context.Background(), items, 3, 0, func(ctx context.Context, n int) error {
		if n == 2 {
			return fmt.Errorf("entity %d exploded", n)
		}
		mu.Lock()
		completed[n] = true
		mu.Unlock()
		return nil
	})

	require.Equal(t, 1, failed)
	require.True(t, completed[1])
	require.True(t, completed[3])
}

func TestRunBatchesIsolatesPanics(t *testing.T) {
	items := []int{1, 2, 3, 4}
	var mu sync.Mutex
	count := 0

	failed := RunBatches(context.Background(), items, 2, 0, func(ctx context.Context, n int) error {
		if n == 1 {
			panic("boom")
		}
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	require.Equal(t, 1, failed)
	require.Equal(t, 3, count)
}

func TestRunBatchesEmptyAndCanceled(t *testing.T) {
	require.Zero(t, RunBatches(context.Background(), nil, 3, 0, func(ctx context.Context, n int) error {
		t.Fatal("handler must not run for empty input")
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	RunBatches(ctx, []int{1}, 3, 0, func(ctx context.Context, n int) error {
		ran = true
		return nil
	})
	require.False(t, ran, "handler must not run after cancellation")
}
