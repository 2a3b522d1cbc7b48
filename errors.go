package workq

import "errors"

var (
	// Enqueue errors.
	ErrUnknownJobType = errors.New("workq: unknown job type")
	ErrQueueFull      = errors.New("workq: queue is full")
	ErrRateLimited    = errors.New("workq: enqueue rate limit exceeded")

	// Not found errors.
	ErrJobNotFound = errors.New("workq: job not found")
	ErrDLQNotFound = errors.New("workq: dead letter entry not found")

	// ErrNotCancellable is returned when Cancel targets a job that has
	// already been dispatched or settled. Only pending jobs can be
	// cancelled.
	ErrNotCancellable = errors.New("workq: job is not pending")

	// Lifecycle errors.
	ErrNotRunning     = errors.New("workq: engine is not running")
	ErrAlreadyRunning = errors.New("workq: engine is already running")

	// ErrTimeout is the synthetic failure recorded when a handler does not
	// settle within the job's timeout. The handler itself keeps running;
	// only its result is discarded.
	ErrTimeout = errors.New("workq: job execution timed out")
)
