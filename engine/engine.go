// Package engine wires all workq subsystems together. It creates the
// job registry, queue, history and dead letter stores, middleware
// chain, and worker pool, and provides the Register/Enqueue/GetJob/
// Cancel operations applications interact with.
//
// This package sits above all subsystem packages and below the
// application layer; the root workq package stays import-free of the
// subsystems so they can all share its Config and sentinel errors.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagepass/workq"
	"github.com/stagepass/workq/backoff"
	"github.com/stagepass/workq/dlq"
	"github.com/stagepass/workq/history"
	"github.com/stagepass/workq/hook"
	"github.com/stagepass/workq/id"
	"github.com/stagepass/workq/job"
	"github.com/stagepass/workq/metrics"
	mw "github.com/stagepass/workq/middleware"
	"github.com/stagepass/workq/queue"
	"github.com/stagepass/workq/ratelimit"
	"github.com/stagepass/workq/worker"
)

// HealthState summarizes engine load for health endpoints.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// Health is a point-in-time load report. Degraded means the queue is
// at or above 80 percent of its ceiling or the worker pool is
// saturated; Unhealthy means the queue is full or the engine is not
// running.
type Health struct {
	State            HealthState `json:"state"`
	Running          bool        `json:"running"`
	Active           int         `json:"active"`
	Concurrency      int         `json:"concurrency"`
	QueueDepth       int         `json:"queue_depth"`
	QueueUtilization float64     `json:"queue_utilization"`
	DLQSize          int         `json:"dlq_size"`
}

// Engine is the in-process job engine. Construct with New, register
// job types, then Start.
type Engine struct {
	cfg      workq.Config
	logger   *slog.Logger
	registry *job.Registry
	hooks    *hook.Registry

	queue      *queue.Store
	history    *history.Store
	dlqStore   *dlq.Store
	dlqService *dlq.Service

	collector  *metrics.Collector
	limiter    *ratelimit.Limiter
	bo         backoff.Strategy
	extraMws   []mw.Middleware
	extraHooks []hook.Hook
	pool       *worker.Pool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// admissionMu serializes the queue-ceiling check against enqueues so
	// a burst cannot overshoot MaxQueueSize.
	admissionMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	loopWg  sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's structured logger. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBackoff sets the retry backoff strategy. If not set,
// backoff.Default() (deterministic exponential, 1s base, 60s cap) is
// used.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithRateLimiter attaches an enqueue rate limiter. Submissions the
// limiter rejects fail with ErrRateLimited.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithMiddleware appends middleware to the engine's chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.extraMws = append(e.extraMws, m) }
}

// WithHook registers a lifecycle observer.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) { e.extraHooks = append(e.extraHooks, h) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New creates an Engine from the given configuration. Zero-valued
// config fields fall back to the DefaultConfig values.
func New(cfg workq.Config, opts ...Option) *Engine {
	defaults := workq.DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaults.MaxQueueSize
	}
	if cfg.DefaultPriority <= 0 {
		cfg.DefaultPriority = defaults.DefaultPriority
	}
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = defaults.DefaultMaxRetries
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = defaults.CompletedTTL
	}
	if cfg.FailedTTL <= 0 {
		cfg.FailedTTL = defaults.FailedTTL
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	e := &Engine{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: job.NewRegistry(),
		queue:    queue.New(),
		history:  history.New(),
		dlqStore: dlq.NewStore(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.bo == nil {
		e.bo = backoff.NewExponential(cfg.BaseDelay, cfg.MaxDelay)
	}

	e.hooks = hook.NewRegistry(e.logger)
	for _, h := range e.extraHooks {
		e.hooks.Register(h)
	}

	e.dlqService = dlq.NewService(e.dlqStore, e)
	e.collector = metrics.NewCollector(e.queue)
	e.hooks.Register(e.collector)

	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/stagepass/workq"))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/stagepass/workq"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	allMws := []mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
	}
	allMws = append(allMws, e.extraMws...)

	executor := worker.NewExecutor(
		e.registry, e.hooks, e.history, e.dlqService, e.bo, e.logger,
		allMws...,
	)
	e.pool = worker.NewPool(e.queue, executor, e.hooks, e.logger,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
	)

	return e
}

// Register registers a typed job definition with the engine.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// Enqueue creates and enqueues a job with a typed payload.
func Enqueue[T any](ctx context.Context, e *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", jobType, err)
	}
	return e.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. The job
// type must be registered; unknown types fail with ErrUnknownJobType.
func (e *Engine) EnqueueRaw(ctx context.Context, jobType string, payload json.RawMessage, opts ...job.Option) (*job.Job, error) {
	jobOpts, ok := e.registry.Defaults(jobType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", workq.ErrUnknownJobType, jobType)
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}

	if e.limiter != nil && !e.limiter.Allow(jobType) {
		return nil, fmt.Errorf("%w: %q", workq.ErrRateLimited, jobType)
	}

	j := e.buildJob(jobType, payload, jobOpts)

	// Hooks and the caller get a snapshot taken before admission: once
	// the job is in the queue the dispatcher may start mutating it.
	snapshot := j.Clone()
	if err := e.admit(j); err != nil {
		return nil, err
	}

	e.hooks.EmitJobAdded(ctx, snapshot)
	e.logger.Debug("job enqueued",
		slog.String("job_id", snapshot.ID.String()),
		slog.String("job_type", snapshot.Type),
		slog.Int("priority", snapshot.Priority),
		slog.String("tier", string(snapshot.Tier)),
	)
	return snapshot, nil
}

// buildJob materializes a pending job record from resolved options.
func (e *Engine) buildJob(jobType string, payload json.RawMessage, jobOpts job.Options) *job.Job {
	now := time.Now().UTC()

	priority := jobOpts.Priority
	if priority == 0 {
		priority = e.cfg.DefaultPriority
	}
	priority = job.ClampPriority(priority)

	maxRetries := e.cfg.DefaultMaxRetries
	if jobOpts.MaxRetriesSet() {
		maxRetries = jobOpts.MaxRetries
	}

	timeout := jobOpts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	scheduledFor := now
	if !jobOpts.ScheduledFor.IsZero() {
		scheduledFor = jobOpts.ScheduledFor
	} else if jobOpts.Delay > 0 {
		scheduledFor = now.Add(jobOpts.Delay)
	}

	correlationID := jobOpts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return &job.Job{
		ID:            id.NewJobID(),
		Type:          jobType,
		Payload:       payload,
		Priority:      priority,
		Tier:          job.TierFor(priority),
		Status:        job.StatusPending,
		MaxRetries:    maxRetries,
		Retries:       maxRetries,
		Timeout:       timeout,
		CorrelationID: correlationID,
		CreatedAt:     now,
		ScheduledFor:  scheduledFor,
	}
}

// admit enqueues j unless the pending-plus-active population has
// reached MaxQueueSize.
func (e *Engine) admit(j *job.Job) error {
	e.admissionMu.Lock()
	defer e.admissionMu.Unlock()

	if e.queue.Len()+e.pool.ActiveCount() >= e.cfg.MaxQueueSize {
		return workq.ErrQueueFull
	}
	e.queue.Enqueue(j)
	return nil
}

// Requeue re-admits a replayed dead letter job. It implements
// dlq.Requeuer so replays share the admission path with fresh
// enqueues.
func (e *Engine) Requeue(ctx context.Context, j *job.Job) error {
	snapshot := j.Clone()
	if err := e.admit(j); err != nil {
		return err
	}
	e.hooks.EmitJobAdded(ctx, snapshot)
	return nil
}

// GetJob returns a copy of the job with the given ID, looking through
// active executions, the pending queue, history, and the dead letter
// queue, in that order.
func (e *Engine) GetJob(jobID id.JobID) (*job.Job, error) {
	if j := e.pool.ActiveJob(jobID); j != nil {
		return j, nil
	}
	if j := e.queue.Get(jobID); j != nil {
		return j, nil
	}
	if j := e.history.Get(jobID); j != nil {
		return j, nil
	}
	if entry := e.dlqStore.GetByJobID(jobID); entry != nil {
		return entry.Job.Clone(), nil
	}
	return nil, workq.ErrJobNotFound
}

// JobsByType returns copies of all known jobs of the given type across
// active executions, the pending queue, history, and the dead letter
// queue. Passing one or more statuses narrows the result to jobs in
// those states.
func (e *Engine) JobsByType(jobType string, statuses ...job.Status) []*job.Job {
	out := e.pool.ActiveJobsByType(jobType)
	out = append(out, e.queue.JobsByType(jobType)...)
	out = append(out, e.history.JobsByType(jobType)...)
	for _, entry := range e.dlqStore.List() {
		if entry.Job.Type == jobType {
			out = append(out, entry.Job.Clone())
		}
	}
	if len(statuses) == 0 {
		return out
	}
	filtered := out[:0]
	for _, j := range out {
		for _, s := range statuses {
			if j.Status == s {
				filtered = append(filtered, j)
				break
			}
		}
	}
	return filtered
}

// Cancel removes a pending job from the queue, marks it cancelled, and
// retains it in history. Jobs already dispatched or settled fail with
// ErrNotCancellable; unknown IDs fail with ErrJobNotFound.
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j := e.queue.Remove(jobID)
	if j == nil {
		if _, err := e.GetJob(jobID); err != nil {
			return err
		}
		return workq.ErrNotCancellable
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	e.history.Put(j)

	e.hooks.EmitJobCancelled(ctx, j)
	e.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)
	return nil
}

// Metrics returns a snapshot of engine counters, queue depths, and
// processing-time statistics.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.collector.Snapshot()
}

// AddMetricsReporter registers a callback that receives periodic
// snapshots while the engine runs (every Config.MetricsInterval).
func (e *Engine) AddMetricsReporter(r metrics.Reporter) {
	e.collector.AddReporter(r)
}

// Health reports current engine load.
func (e *Engine) Health() Health {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	active := e.pool.ActiveCount()
	depth := e.queue.Len()
	var util float64
	if e.cfg.MaxQueueSize > 0 {
		util = float64(depth) / float64(e.cfg.MaxQueueSize)
	}
	h := Health{
		Running:          running,
		Active:           active,
		Concurrency:      e.cfg.Concurrency,
		QueueDepth:       depth,
		QueueUtilization: util,
		DLQSize:          e.dlqStore.Count(),
	}

	switch {
	case !running || util >= 1:
		h.State = Unhealthy
	case util >= 0.8 || active >= e.cfg.Concurrency:
		h.State = Degraded
	default:
		h.State = Healthy
	}
	return h
}

// DLQ returns the dead letter service for inspection and replay.
func (e *Engine) DLQ() *dlq.Service { return e.dlqService }

// Hooks returns the lifecycle observer registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Registry returns the job registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Start launches the worker pool and the cleanup and metrics loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return workq.ErrAlreadyRunning
	}
	e.running = true
	e.stopCh = make(chan struct{})

	if err := e.pool.Start(ctx); err != nil {
		e.running = false
		return err
	}

	e.loopWg.Add(1)
	go e.cleanupLoop()

	if e.cfg.MetricsInterval > 0 {
		e.loopWg.Add(1)
		go e.metricsLoop()
	}

	e.logger.Info("engine started",
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Duration("poll_interval", e.cfg.PollInterval),
		slog.Int("max_queue_size", e.cfg.MaxQueueSize),
	)
	return nil
}

// Stop shuts the engine down, waiting for in-flight jobs to settle. If
// ctx carries no deadline, Config.ShutdownTimeout applies.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return workq.ErrNotRunning
	}
	e.running = false
	stopCh := e.stopCh
	e.mu.Unlock()

	close(stopCh)
	e.loopWg.Wait()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	err := e.pool.Stop(ctx)
	e.hooks.EmitShutdown(context.Background())
	e.logger.Info("engine stopped")
	return err
}

// cleanupLoop periodically evicts settled jobs past their retention
// TTLs: completed and cancelled jobs from history, dead letter entries
// from the DLQ.
func (e *Engine) cleanupLoop() {
	defer e.loopWg.Done()

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			swept := e.history.Sweep(now.Add(-e.cfg.CompletedTTL))
			purged := e.dlqStore.Purge(now.Add(-e.cfg.FailedTTL))
			if swept > 0 || purged > 0 {
				e.logger.Info("cleanup pass",
					slog.Int("history_swept", swept),
					slog.Int("dlq_purged", purged),
				)
			}
		}
	}
}

// metricsLoop periodically delivers snapshots to registered reporters.
func (e *Engine) metricsLoop() {
	defer e.loopWg.Done()

	ticker := time.NewTicker(e.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.collector.Report()
		}
	}
}
