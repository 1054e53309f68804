// Package parallel contains bounded concurrency helpers.
package parallel

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Limit reports the default number of goroutines: the logical cores of the
// CPU, or GOMAXPROCS when the core count is undetectable.
func Limit() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// ForEach calls body for every integer from 0 to length-1 with at most limit
// goroutines running at a time. A limit of zero or less uses Limit().
// ForEach returns once every body has returned.
func ForEach(length, limit int, body func(i int)) {
	if length <= 0 {
		return
	}
	if limit <= 0 {
		limit = Limit()
	}
	if limit == 1 || length == 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)

	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			body(i)
		}(i)
	}

	wg.Wait()
}

// ForEachErr is ForEach for bodies that can fail. It returns the error of the
// lowest index that failed, so the result does not depend on scheduling.
func ForEachErr(length, limit int, body func(i int) error) error {
	if length <= 0 {
		return nil
	}
	errs := make([]error, length)
	ForEach(length, limit, func(i int) {
		errs[i] = body(i)
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
