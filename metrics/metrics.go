// Package metrics collects counters and timing samples for job
// execution and exposes point-in-time snapshots of engine state.
//
// The Collector implements the hook event interfaces, so wiring it is
// a single Register call on the hook registry. Queue depths are pulled
// lazily from a DepthSource at snapshot time rather than tracked
// incrementally, which keeps the collector free of queue internals.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/stagepass/workq/job"
)

// sampleWindow bounds the processing-time ring buffer. Old samples are
// overwritten once the window fills, so the average reflects recent
// executions rather than the whole process lifetime.
const sampleWindow = 1000

// DepthSource supplies per-tier queue depths for snapshots.
type DepthSource interface {
	Depths() map[job.Tier]int
}

// Snapshot is a point-in-time view of engine activity.
type Snapshot struct {
	TotalCreated   int64             `json:"total_created"`
	TotalCompleted int64             `json:"total_completed"`
	TotalFailed    int64             `json:"total_failed"`
	TotalRetried   int64             `json:"total_retried"`
	TotalCancelled int64             `json:"total_cancelled"`
	TotalDLQ       int64             `json:"total_dlq"`
	Active         int               `json:"active"`
	QueueDepths    map[job.Tier]int  `json:"queue_depths"`
	AvgProcessing  time.Duration     `json:"avg_processing"`
	CapturedAt     time.Time         `json:"captured_at"`
}

// Reporter receives periodic snapshots from the engine's metrics loop.
type Reporter func(Snapshot)

// Collector accumulates job lifecycle counters. All methods are safe
// for concurrent use.
type Collector struct {
	mu sync.Mutex

	created   int64
	completed int64
	failed    int64
	retried   int64
	cancelled int64
	dlq       int64
	active    int

	samples [sampleWindow]time.Duration
	nsample int
	cursor  int

	depths    DepthSource
	reporters []Reporter
}

// NewCollector returns a Collector that reads queue depths from depths
// when producing snapshots. A nil depths source yields empty depth maps.
func NewCollector(depths DepthSource) *Collector {
	return &Collector{depths: depths}
}

// Name implements hook.Hook.
func (c *Collector) Name() string { return "metrics" }

// AddReporter registers a callback invoked by Report. Reporters run
// synchronously in registration order.
func (c *Collector) AddReporter(r Reporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reporters = append(c.reporters, r)
}

// OnJobAdded implements hook.JobAdded.
func (c *Collector) OnJobAdded(_ context.Context, j *job.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
	return nil
}

// OnJobStarted implements hook.JobStarted.
func (c *Collector) OnJobStarted(_ context.Context, j *job.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (c *Collector) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
	c.active--
	c.record(elapsed)
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (c *Collector) OnJobRetrying(_ context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retried++
	c.active--
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (c *Collector) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	c.active--
	return nil
}

// OnJobDLQ implements hook.JobDLQ.
func (c *Collector) OnJobDLQ(_ context.Context, j *job.Job, jobErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dlq++
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (c *Collector) OnJobCancelled(_ context.Context, j *job.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
	return nil
}

func (c *Collector) record(elapsed time.Duration) {
	c.samples[c.cursor] = elapsed
	c.cursor = (c.cursor + 1) % sampleWindow
	if c.nsample < sampleWindow {
		c.nsample++
	}
}

// Snapshot captures current counters, active count, queue depths and
// the average processing time over the recent sample window.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		TotalCreated:   c.created,
		TotalCompleted: c.completed,
		TotalFailed:    c.failed,
		TotalRetried:   c.retried,
		TotalCancelled: c.cancelled,
		TotalDLQ:       c.dlq,
		Active:         c.active,
		CapturedAt:     time.Now(),
	}
	if c.nsample > 0 {
		var total time.Duration
		for i := range c.nsample {
			total += c.samples[i]
		}
		snap.AvgProcessing = total / time.Duration(c.nsample)
	}
	depths := c.depths
	c.mu.Unlock()

	snap.QueueDepths = make(map[job.Tier]int, len(job.Tiers))
	if depths != nil {
		for tier, n := range depths.Depths() {
			snap.QueueDepths[tier] = n
		}
	}
	return snap
}

// Report takes a snapshot and delivers it to every registered reporter.
func (c *Collector) Report() {
	snap := c.Snapshot()
	c.mu.Lock()
	reporters := make([]Reporter, len(c.reporters))
	copy(reporters, c.reporters)
	c.mu.Unlock()
	for _, r := range reporters {
		r(snap)
	}
}
