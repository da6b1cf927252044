// Package parallel splits row ranges across goroutines for batch inference.
package parallel

import (
	"runtime"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

// chunks divides items into at most GOMAXPROCS contiguous [start, end) ranges.
func chunks(items int) [][2]int {
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > items {
		numWorkers = items
	}
	chunkSize := (items + numWorkers - 1) / numWorkers

	var out [][2]int
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// Parallelize runs fn over disjoint ranges covering [0, items) in parallel.
// A panic in fn is re-raised in the caller once all ranges finished.
func Parallelize(items int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	var wg conc.WaitGroup
	for _, c := range chunks(items) {
		start, end := c[0], c[1]
		wg.Go(func() { fn(start, end) })
	}
	wg.Wait()
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold.
// If below threshold, fn is called once with the whole range.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		if items > 0 {
			fn(0, items)
		}
		return
	}
	Parallelize(items, fn)
}

// ParallelizeErr is Parallelize for range functions that can fail.
// All ranges run to completion and the returned error joins every failure.
func ParallelizeErr(items int, fn func(start, end int) error) error {
	if items <= 0 {
		return nil
	}
	p := pool.New().WithErrors()
	for _, c := range chunks(items) {
		start, end := c[0], c[1]
		p.Go(func() error { return fn(start, end) })
	}
	return p.Wait()
}
