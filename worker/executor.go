// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and settles each
// attempt, and a Pool that dispatches queued jobs to bounded concurrent
// executions.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stagepass/workq"
	"github.com/stagepass/workq/backoff"
	"github.com/stagepass/workq/dlq"
	"github.com/stagepass/workq/history"
	"github.com/stagepass/workq/hook"
	"github.com/stagepass/workq/job"
	"github.com/stagepass/workq/middleware"
)

// execResult carries a handler's return values across the timeout race.
type execResult struct {
	value any
	err   error
}

// Executor runs a single job attempt through middleware and the
// registered handler, then settles it: success moves the job to
// history, a retryable failure is handed back to the pool for
// re-enqueueing with backoff, and an exhausted failure pushes the job
// to the DLQ.
type Executor struct {
	registry   *job.Registry
	hooks      *hook.Registry
	history    *history.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	hist *history.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		hooks:      hooks,
		history:    hist,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs one attempt of j and settles the outcome. The caller
// must have already marked the job processing and bumped its attempt
// counter.
//
// The handler runs on its own goroutine under a context that carries
// the job's deadline. If it does not settle within the timeout the
// attempt is failed with ErrTimeout and the goroutine is left to
// finish on its own; its eventual result is discarded. The middleware
// chain receives a snapshot of the job, so a late-unwinding chain
// never races with the settlement below.
//
// A retryable failure does not re-enqueue the job here: Execute
// prepares it for re-dispatch and returns it as requeue, and the pool
// enqueues it only after the execution's active entry is gone. The
// moment the job re-enters the queue the dispatcher may hand it to a
// new execution, so nothing on this path touches the record after
// that.
//
// onProgress, if non-nil, is invoked from the handler goroutine each
// time the handler reports progress.
func (e *Executor) Execute(ctx context.Context, j *job.Job, onProgress func(pct int)) (requeue *job.Job, err error) {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		// Handlers cannot be deregistered, so this only happens when a
		// job record outlives its process somehow. Dead-letter it
		// rather than retry an error that cannot heal.
		return nil, e.sendToDLQ(ctx, j, fmt.Errorf("no handler registered for job type %q", j.Type))
	}

	timeout := j.Timeout
	snapshot := j.Clone()
	start := time.Now()

	var progress atomic.Int32
	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	handlerCtx = job.WithProgressReporter(handlerCtx, func(pct int) {
		progress.Store(int32(pct))
		if onProgress != nil {
			onProgress(pct)
		}
	})

	terminal := func(ctx context.Context) (any, error) {
		return handler(ctx, j.Payload)
	}

	resultCh := make(chan execResult, 1)
	go func() {
		value, err := e.mw(handlerCtx, snapshot, terminal)
		resultCh <- execResult{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res execResult
	select {
	case res = <-resultCh:
	case <-timer.C:
		res = execResult{err: workq.ErrTimeout}
	}
	elapsed := time.Since(start)

	j.Progress = int(progress.Load())

	if res.err != nil {
		return e.handleFailure(ctx, j, res.err)
	}
	return nil, e.handleSuccess(ctx, j, res.value, elapsed)
}

// handleSuccess marks the job completed, records its result, and moves
// it to history.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, value any, elapsed time.Duration) error {
	now := time.Now().UTC()
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	j.Progress = 100
	j.LastError = ""

	if value != nil {
		encoded, err := json.Marshal(value)
		if err != nil {
			e.logger.Warn("job result not serializable, discarding",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", err.Error()),
			)
		} else {
			j.Result = encoded
		}
	}

	e.history.Put(j)
	e.hooks.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure consumes a retry token and either prepares the job for
// re-dispatch or sends it to the DLQ.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error) (*job.Job, error) {
	j.LastError = handlerErr.Error()

	if j.Retries > 0 {
		return e.scheduleRetry(ctx, j)
	}
	return nil, e.sendToDLQ(ctx, j, handlerErr)
}

// scheduleRetry returns the job to pending with a backoff delay keyed
// to the attempt that just failed, and hands it back to the caller for
// re-enqueueing. Hooks and logging see a snapshot taken here, before
// the record can reach a new execution.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job) (*job.Job, error) {
	delay := e.backoff.Delay(j.Attempts)
	nextRunAt := time.Now().UTC().Add(delay)

	j.Retries--
	j.Status = job.StatusPending
	j.ScheduledFor = nextRunAt
	j.StartedAt = nil

	snapshot := j.Clone()
	e.hooks.EmitJobRetrying(ctx, snapshot, snapshot.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", snapshot.ID.String()),
		slog.String("job_type", snapshot.Type),
		slog.Int("attempt", snapshot.Attempts),
		slog.Int("retries_left", snapshot.Retries),
		slog.Duration("delay", delay),
	)

	return j, fmt.Errorf("job %s attempt %d failed, retrying: %s", snapshot.Type, snapshot.Attempts, snapshot.LastError)
}

// sendToDLQ marks the job failed and dead-letters it.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, handlerErr error) error {
	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.CompletedAt = &now
	j.LastError = handlerErr.Error()

	e.dlqService.Push(ctx, j, handlerErr)
	e.hooks.EmitJobFailed(ctx, j, handlerErr)
	e.hooks.EmitJobDLQ(ctx, j, handlerErr)

	e.logger.Warn("job moved to dead letter queue",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempts", j.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
