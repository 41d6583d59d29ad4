package utils

import (
	"runtime"
	"sync"

	"golang.org/x/exp/slices"
)

// ParallelFor runs fn(i) for every i in [0, n) across a bounded pool of
// goroutines and blocks until all of them complete. This is the only
// scheduling primitive the resolver, scanner, and ICF engine need: a
// data-parallel map over an indexed range, with no cooperative
// suspension and no cancellation (the link either finishes or a fatal
// error takes the whole process down).
func ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var next int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				i := next
				next++
				mu.Unlock()
				if i >= n {
					return
				}
				fn(i)
			}
		}()
	}
	wg.Wait()
}

// ParallelSort stably sorts s by less. Sorting is itself not
// parallelized (the slices in question are sections and symbols, not
// bytes), but the comparator contract matches what ICF's Phase C merge
// and the mergeable-fragment offset assignment require: a total order
// with an explicit, deterministic tie-breaker so the result is
// independent of how the prior phase's goroutines interleaved.
func ParallelSort[T any](s []T, less func(a, b T) bool) {
	slices.SortStableFunc(s, func(a, b T) int {
		if less(a, b) {
			return -1
		}
		if less(b, a) {
			return 1
		}
		return 0
	})
}
