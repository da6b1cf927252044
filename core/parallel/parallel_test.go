package parallel

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestParallelizeCoversAllItems(t *testing.T) {
	for _, items := range []int{0, 1, 7, 100, 1001} {
		seen := make([]int32, items)
		Parallelize(items, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		})
		for i, n := range seen {
			if n != 1 {
				t.Fatalf("items=%d: index %d visited %d times", items, i, n)
			}
		}
	}
}

func TestParallelizeWithThreshold(t *testing.T) {
	calls := int32(0)
	ParallelizeWithThreshold(10, 100, func(start, end int) {
		atomic.AddInt32(&calls, 1)
		if start != 0 || end != 10 {
			t.Errorf("range = [%d, %d), want [0, 10)", start, end)
		}
	})
	if calls != 1 {
		t.Errorf("sequential path should call fn once, got %d", calls)
	}
}

func TestParallelizeErr(t *testing.T) {
	boom := errors.New("boom")
	err := ParallelizeErr(50, func(start, end int) error {
		if start == 0 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if err := ParallelizeErr(50, func(int, int) error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
