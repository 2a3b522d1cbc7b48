package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stagepass/workq/hook"
	"github.com/stagepass/workq/id"
	"github.com/stagepass/workq/job"
	"github.com/stagepass/workq/queue"
)

// Pool dispatches queued jobs to concurrent executions. A single
// dispatcher goroutine polls the queue on a fixed interval and, while
// capacity remains, hands eligible jobs to per-job goroutines that run
// the Executor.
type Pool struct {
	queue        *queue.Store
	executor     *Executor
	hooks        *hook.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// active maps job IDs to snapshots of the executing jobs. Snapshots
	// are updated on progress reports and read by ActiveJob, so callers
	// never touch the record the executor is mutating.
	activeMu sync.Mutex
	active   map[id.JobID]*job.Job
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the maximum number of jobs executing
// simultaneously.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often the dispatcher checks for work.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// NewPool creates a worker pool.
func NewPool(
	q *queue.Store,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		queue:        q,
		executor:     executor,
		hooks:        hooks,
		concurrency:  10,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		active:       make(map[id.JobID]*job.Job),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the dispatcher goroutine. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	p.wg.Add(1)
	go p.dispatchLoop(p.stopCh)

	return nil
}

// Stop signals the dispatcher to stop and waits for in-flight jobs to
// settle. If the context expires first, remaining executions are
// abandoned to finish on their own and Stop returns the context error.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh := p.stopCh
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, abandoning active jobs",
			slog.Int("active", p.ActiveCount()),
		)
		return ctx.Err()
	}
}

// dispatchLoop is the single dispatcher goroutine. Each tick performs
// at most one capacity-check / pull / hand-off cycle, so a burst of
// eligible jobs drains at one job per interval once capacity frees up.
func (p *Pool) dispatchLoop(stopCh <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.dispatchOne()
		}
	}
}

// dispatchOne pulls the next eligible job and hands it to a goroutine,
// if capacity allows.
func (p *Pool) dispatchOne() {
	if p.ActiveCount() >= p.concurrency {
		return
	}

	j := p.queue.DequeueNext(time.Now())
	if j == nil {
		return
	}

	p.begin(j)
}

// begin marks the job processing and launches its execution goroutine.
func (p *Pool) begin(j *job.Job) {
	now := time.Now().UTC()
	j.Status = job.StatusProcessing
	j.StartedAt = &now
	j.Attempts++

	snapshot := j.Clone()
	p.activeMu.Lock()
	p.active[j.ID] = snapshot
	p.activeMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx := context.Background()
		p.hooks.EmitJobStarted(ctx, snapshot)

		requeue, err := p.executor.Execute(ctx, j, p.progressFunc(j.ID))

		// The active entry must be gone before a retry re-enters the
		// queue: a zero-delay re-dispatch would otherwise collide with
		// this execution's bookkeeping. Once the job is enqueued the
		// record belongs to the next execution.
		p.release(j.ID)
		if requeue != nil {
			p.queue.Enqueue(requeue)
		}

		if err != nil {
			p.logger.Debug("job attempt failed",
				slog.String("job_id", snapshot.ID.String()),
				slog.String("job_type", snapshot.Type),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// progressFunc returns the callback the executor invokes when a
// handler reports progress. It updates the active snapshot and emits
// the progress event with a private copy.
func (p *Pool) progressFunc(jobID id.JobID) func(pct int) {
	return func(pct int) {
		p.activeMu.Lock()
		snapshot, ok := p.active[jobID]
		if ok {
			snapshot.Progress = pct
			snapshot = snapshot.Clone()
		}
		p.activeMu.Unlock()
		if ok {
			p.hooks.EmitJobProgress(context.Background(), snapshot, pct)
		}
	}
}

func (p *Pool) release(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

// ActiveCount returns the number of jobs currently executing.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// ActiveJob returns a copy of the executing job with the given ID, or
// nil if it is not currently active.
func (p *Pool) ActiveJob(jobID id.JobID) *job.Job {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if snapshot, ok := p.active[jobID]; ok {
		return snapshot.Clone()
	}
	return nil
}

// ActiveJobsByType returns copies of all executing jobs of the given
// type.
func (p *Pool) ActiveJobsByType(jobType string) []*job.Job {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	var out []*job.Job
	for _, snapshot := range p.active {
		if snapshot.Type == jobType {
			out = append(out, snapshot.Clone())
		}
	}
	return out
}
