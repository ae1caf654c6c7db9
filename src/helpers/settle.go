package helpers

import "sync"

// SettleResult is the outcome of one best-effort task.
type SettleResult struct {
	Index int
	Err   error
}

// SettleAll runs every task concurrently and waits for all of them, collecting
// failures instead of aborting. Used for side effects (file cleanup and the
// like) that must never fail the primary operation.
func SettleAll(tasks []func() error) []SettleResult {
	results := make([]SettleResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task func() error) {
			defer wg.Done()
			results[i] = SettleResult{Index: i, Err: task()}
		}(i, task)
	}
	wg.Wait()
	return results
}
