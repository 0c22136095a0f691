package scanner

import "runtime"

// Worker limits for the fastwalk pool.
const (
	// maxWorkers caps the pool to avoid excessive context switching.
	maxWorkers = 64

	// minWorkers keeps some parallelism on small machines; directory
	// traversal is metadata-heavy and waits on disk.
	minWorkers = 4
)

// workerCount returns the walk pool size. A positive override wins
// (still capped); otherwise one worker per CPU with a floor of minWorkers.
func workerCount(override int) int {
	if override > 0 {
		return min(override, maxWorkers)
	}
	return min(max(runtime.NumCPU(), minWorkers), maxWorkers)
}
