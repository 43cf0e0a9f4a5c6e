package common

import (
	"runtime"
	"sync"
)

// ParallelRows splits the half-open row range [0, n) into contiguous bands
// and runs fn on each band from its own worker. It blocks until every band
// is done. workers <= 0 selects runtime.NumCPU(). fn must not retain the
// band beyond the call.
func ParallelRows(n, workers int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		fn(0, n)
		return
	}

	band := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += band {
		end := start + band
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}
