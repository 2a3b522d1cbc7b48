// Package hook defines the lifecycle observer system for the job engine.
// Observers are statically registered collaborators — logging, metrics,
// alerting — notified synchronously at every job transition.
//
// Each lifecycle event is a separate interface so observers opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/stagepass/workq/job"
)

// Hook is the base interface all observers must implement.
type Hook interface {
	// Name returns a unique human-readable name for the observer.
	Name() string
}

// JobAdded is called after a job is validated and enqueued.
type JobAdded interface {
	OnJobAdded(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins an execution attempt.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called when a handler reports execution progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, pct int) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when an attempt fails but retries remain.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally (retries exhausted).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called when a still-pending job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// Shutdown is called during graceful engine shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
