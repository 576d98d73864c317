package testutil

import (
	"sync"
	"time"
)

// TestTime returns the fixed clock used across tests.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// RunConcurrent runs fns in parallel and returns their errors in call order.
func RunConcurrent(fns ...func() error) []error {
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn()
		}()
	}
	wg.Wait()
	return errs
}

// StringPtr returns &s.
func StringPtr(s string) *string { return &s }

// TimePtr returns &t.
func TimePtr(t time.Time) *time.Time { return &t }
