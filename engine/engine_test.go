package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/stagepass/workq"
	"github.com/stagepass/workq/engine"
	"github.com/stagepass/workq/id"
	"github.com/stagepass/workq/job"
	"github.com/stagepass/workq/metrics"
	"github.com/stagepass/workq/ratelimit"
)

// ──────────────────────────────────────────────────
// Test payloads and helpers
// ──────────────────────────────────────────────────

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// fastConfig returns a config tuned for tests: tight polling, small
// queue scans, quick shutdown.
func fastConfig() workq.Config {
	cfg := workq.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		eng.Stop(context.Background())
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func waitForStatus(t *testing.T, eng *engine.Engine, jobID id.JobID, want job.Status) *job.Job {
	t.Helper()
	waitFor(t, func() bool {
		j, err := eng.GetJob(jobID)
		return err == nil && j.Status == want
	}, "timed out waiting for job status "+string(want))
	j, _ := eng.GetJob(jobID)
	return j
}

// ──────────────────────────────────────────────────
// End-to-end: Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	eng := engine.New(fastConfig())

	var gotPayload emailPayload
	var processed atomic.Bool
	engine.Register(eng, job.NewDefinition("send-email", func(_ context.Context, p emailPayload) (any, error) {
		gotPayload = p
		processed.Store(true)
		return map[string]string{"message_id": "msg-123"}, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "send-email", emailPayload{
		To:      "alice@example.com",
		Subject: "Your tickets are ready",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Type != "send-email" {
		t.Errorf("job.Type = %q, want %q", j.Type, "send-email")
	}
	if j.Status != job.StatusPending {
		t.Errorf("job.Status = %q, want %q", j.Status, job.StatusPending)
	}
	if j.Priority != 5 || j.Tier != job.TierNormal {
		t.Errorf("defaults: priority=%d tier=%q, want 5/normal", j.Priority, j.Tier)
	}
	if j.CorrelationID == "" {
		t.Error("expected a generated correlation ID")
	}

	startEngine(t, eng)

	got := waitForStatus(t, eng, j.ID, job.StatusCompleted)
	if !processed.Load() {
		t.Fatal("handler never ran")
	}
	if gotPayload.To != "alice@example.com" {
		t.Errorf("payload.To = %q, want %q", gotPayload.To, "alice@example.com")
	}
	if !strings.Contains(string(got.Result), "msg-123") {
		t.Errorf("result = %s, want to contain msg-123", got.Result)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestEngine_Enqueue_UnknownType(t *testing.T) {
	eng := engine.New(fastConfig())

	_, err := engine.Enqueue(context.Background(), eng, "no-such-type", struct{}{})
	if !errors.Is(err, workq.ErrUnknownJobType) {
		t.Fatalf("err = %v, want ErrUnknownJobType", err)
	}
}

func TestEngine_Enqueue_QueueFull(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxQueueSize = 2
	eng := engine.New(cfg)

	engine.Register(eng, job.NewDefinition("noop", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))

	for i := range 2 {
		if _, err := engine.Enqueue(context.Background(), eng, "noop", struct{}{}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if _, err := engine.Enqueue(context.Background(), eng, "noop", struct{}{}); !errors.Is(err, workq.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestEngine_Enqueue_RateLimited(t *testing.T) {
	limiter := ratelimit.New()
	limiter.SetType("noop", rate.Limit(1), 1)
	eng := engine.New(fastConfig(), engine.WithRateLimiter(limiter))

	engine.Register(eng, job.NewDefinition("noop", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))

	if _, err := engine.Enqueue(context.Background(), eng, "noop", struct{}{}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := engine.Enqueue(context.Background(), eng, "noop", struct{}{}); !errors.Is(err, workq.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

// ──────────────────────────────────────────────────
// Priority and scheduling
// ──────────────────────────────────────────────────

func TestEngine_PriorityOrdering(t *testing.T) {
	cfg := fastConfig()
	cfg.Concurrency = 1
	eng := engine.New(cfg)

	var mu sync.Mutex
	var order []string
	record := func(label string) {
		mu.Lock()
		order = append(order, label)
		mu.Unlock()
	}

	blockerRunning := make(chan struct{})
	release := make(chan struct{})
	engine.Register(eng, job.NewDefinition("blocker", func(_ context.Context, _ struct{}) (any, error) {
		close(blockerRunning)
		<-release
		return nil, nil
	}))
	engine.Register(eng, job.NewDefinition("tagged", func(_ context.Context, p struct{ Label string }) (any, error) {
		record(p.Label)
		return nil, nil
	}))

	if _, err := engine.Enqueue(context.Background(), eng, "blocker", struct{}{}); err != nil {
		t.Fatalf("enqueue blocker: %v", err)
	}
	startEngine(t, eng)
	<-blockerRunning

	// With the single worker occupied, queue a bulk job first and a
	// critical one second. The critical job must still run first.
	if _, err := engine.Enqueue(context.Background(), eng, "tagged", struct{ Label string }{"bulk"}, job.WithPriority(10)); err != nil {
		t.Fatalf("enqueue bulk: %v", err)
	}
	if _, err := engine.Enqueue(context.Background(), eng, "tagged", struct{ Label string }{"critical"}, job.WithPriority(1)); err != nil {
		t.Fatalf("enqueue critical: %v", err)
	}

	close(release)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, "timed out waiting for tagged jobs")

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "critical" || order[1] != "bulk" {
		t.Errorf("execution order = %v, want [critical bulk]", order)
	}
}

func TestEngine_DelayedJobNotRunEarly(t *testing.T) {
	eng := engine.New(fastConfig())

	var ran atomic.Bool
	engine.Register(eng, job.NewDefinition("later", func(_ context.Context, _ struct{}) (any, error) {
		ran.Store(true)
		return nil, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "later", struct{}{}, job.WithDelay(150*time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startEngine(t, eng)

	time.Sleep(75 * time.Millisecond)
	if ran.Load() {
		t.Fatal("delayed job ran before its scheduled time")
	}

	waitForStatus(t, eng, j.ID, job.StatusCompleted)
	if !ran.Load() {
		t.Fatal("delayed job never ran")
	}
}

// ──────────────────────────────────────────────────
// Retries, DLQ, replay
// ──────────────────────────────────────────────────

func TestEngine_RetryUntilSuccess(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = 5 * time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	eng := engine.New(cfg)

	var attempts atomic.Int32
	engine.Register(eng, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return nil, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "flaky", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startEngine(t, eng)

	got := waitForStatus(t, eng, j.ID, job.StatusCompleted)
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
	if got.Retries != 1 {
		t.Errorf("retries left = %d, want 1", got.Retries)
	}
}

func TestEngine_ExhaustedRetriesDeadLetterAndReplay(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = 5 * time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	eng := engine.New(cfg)

	var fail atomic.Bool
	fail.Store(true)
	engine.Register(eng, job.NewDefinition("doomed", func(_ context.Context, _ struct{}) (any, error) {
		if fail.Load() {
			return nil, errors.New("downstream outage")
		}
		return nil, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "doomed", struct{}{}, job.WithMaxRetries(1))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startEngine(t, eng)

	got := waitForStatus(t, eng, j.ID, job.StatusFailed)
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (original + one retry)", got.Attempts)
	}
	if got.LastError != "downstream outage" {
		t.Errorf("last error = %q, want %q", got.LastError, "downstream outage")
	}

	entries := eng.DLQ().Store().List()
	if len(entries) != 1 {
		t.Fatalf("DLQ entries = %d, want 1", len(entries))
	}

	// Replay with the handler healed: the replayed job must be a fresh
	// record with a full retry budget that completes normally.
	fail.Store(false)
	replayed, err := eng.DLQ().Replay(context.Background(), entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID == j.ID {
		t.Error("replayed job must get a fresh ID")
	}
	if replayed.Retries != replayed.MaxRetries {
		t.Errorf("replayed retries = %d, want full budget %d", replayed.Retries, replayed.MaxRetries)
	}

	waitForStatus(t, eng, replayed.ID, job.StatusCompleted)

	// The original entry stays inspectable, marked replayed.
	if entry := eng.DLQ().Store().Get(entries[0].ID); entry == nil || entry.ReplayedAt == nil {
		t.Error("expected the dead letter entry to be marked replayed")
	}
}

func TestEngine_TimeoutDeadLetters(t *testing.T) {
	eng := engine.New(fastConfig())

	release := make(chan struct{})
	defer close(release)
	engine.Register(eng, job.NewDefinition("slow", func(_ context.Context, _ struct{}) (any, error) {
		<-release
		return nil, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "slow", struct{}{},
		job.WithTimeout(30*time.Millisecond), job.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startEngine(t, eng)

	got := waitForStatus(t, eng, j.ID, job.StatusFailed)
	if !strings.Contains(got.LastError, "timed out") {
		t.Errorf("last error = %q, want a timeout message", got.LastError)
	}
}

// ──────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────

func TestEngine_CancelPendingJob(t *testing.T) {
	// Engine not started: enqueued jobs stay pending.
	eng := engine.New(fastConfig())

	engine.Register(eng, job.NewDefinition("noop", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "noop", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := eng.Cancel(context.Background(), j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := eng.GetJob(j.ID)
	if err != nil {
		t.Fatalf("GetJob after cancel: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want %q", got.Status, job.StatusCancelled)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set on cancellation")
	}

	// A second cancel finds the job settled.
	if err := eng.Cancel(context.Background(), j.ID); !errors.Is(err, workq.ErrNotCancellable) {
		t.Errorf("second cancel err = %v, want ErrNotCancellable", err)
	}
}

func TestEngine_CancelRunningJobFails(t *testing.T) {
	eng := engine.New(fastConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	engine.Register(eng, job.NewDefinition("busy", func(_ context.Context, _ struct{}) (any, error) {
		close(started)
		<-release
		return nil, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "busy", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startEngine(t, eng)
	<-started

	if err := eng.Cancel(context.Background(), j.ID); !errors.Is(err, workq.ErrNotCancellable) {
		t.Fatalf("cancel running err = %v, want ErrNotCancellable", err)
	}
}

func TestEngine_CancelUnknownJob(t *testing.T) {
	eng := engine.New(fastConfig())

	if err := eng.Cancel(context.Background(), id.NewJobID()); !errors.Is(err, workq.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Lookup across stores
// ──────────────────────────────────────────────────

func TestEngine_GetJobWhileRunning(t *testing.T) {
	eng := engine.New(fastConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	engine.Register(eng, job.NewDefinition("busy", func(_ context.Context, _ struct{}) (any, error) {
		close(started)
		<-release
		return nil, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "busy", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startEngine(t, eng)
	<-started

	got, err := eng.GetJob(j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusProcessing {
		t.Errorf("status = %q, want %q", got.Status, job.StatusProcessing)
	}
	if got.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	close(release)
	waitForStatus(t, eng, j.ID, job.StatusCompleted)
}

func TestEngine_JobsByTypeSpansStores(t *testing.T) {
	eng := engine.New(fastConfig())

	engine.Register(eng, job.NewDefinition("report", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))
	engine.Register(eng, job.NewDefinition("other", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))

	a, _ := engine.Enqueue(context.Background(), eng, "report", struct{}{})
	engine.Enqueue(context.Background(), eng, "other", struct{}{})
	startEngine(t, eng)
	waitForStatus(t, eng, a.ID, job.StatusCompleted)

	// One settled, one freshly pending.
	b, _ := engine.Enqueue(context.Background(), eng, "report", struct{}{})

	jobs := eng.JobsByType("report")
	seen := map[id.JobID]bool{}
	for _, got := range jobs {
		seen[got.ID] = true
	}
	if !seen[a.ID] || !seen[b.ID] {
		t.Errorf("JobsByType missing jobs: got %d entries, want both %s and %s", len(jobs), a.ID, b.ID)
	}

	completed := eng.JobsByType("report", job.StatusCompleted)
	found := false
	for _, got := range completed {
		if got.Status != job.StatusCompleted {
			t.Errorf("completed filter returned status %q", got.Status)
		}
		if got.ID == a.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("JobsByType completed filter missing %s", a.ID)
	}
	if got := eng.JobsByType("report", job.StatusFailed); len(got) != 0 {
		t.Errorf("JobsByType failed filter = %v, want empty", got)
	}
}

// ──────────────────────────────────────────────────
// Metrics, health, lifecycle
// ──────────────────────────────────────────────────

func TestEngine_MetricsCounters(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = 5 * time.Millisecond
	eng := engine.New(cfg)

	engine.Register(eng, job.NewDefinition("ok", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))
	engine.Register(eng, job.NewDefinition("bad", func(_ context.Context, _ struct{}) (any, error) {
		return nil, errors.New("nope")
	}))

	okJob, _ := engine.Enqueue(context.Background(), eng, "ok", struct{}{})
	badJob, _ := engine.Enqueue(context.Background(), eng, "bad", struct{}{}, job.WithMaxRetries(0))
	startEngine(t, eng)

	waitForStatus(t, eng, okJob.ID, job.StatusCompleted)
	waitForStatus(t, eng, badJob.ID, job.StatusFailed)

	snap := eng.Metrics()
	if snap.TotalCreated != 2 {
		t.Errorf("TotalCreated = %d, want 2", snap.TotalCreated)
	}
	if snap.TotalCompleted != 1 {
		t.Errorf("TotalCompleted = %d, want 1", snap.TotalCompleted)
	}
	if snap.TotalFailed != 1 {
		t.Errorf("TotalFailed = %d, want 1", snap.TotalFailed)
	}
	if snap.TotalDLQ != 1 {
		t.Errorf("TotalDLQ = %d, want 1", snap.TotalDLQ)
	}
	if snap.AvgProcessing <= 0 {
		t.Error("expected a positive average processing time")
	}
}

func TestEngine_Health(t *testing.T) {
	cfg := fastConfig()
	cfg.Concurrency = 1
	cfg.MaxQueueSize = 5
	eng := engine.New(cfg)

	if h := eng.Health(); h.State != engine.Unhealthy || h.Running {
		t.Errorf("stopped health = %+v, want unhealthy/not running", h)
	}

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	engine.Register(eng, job.NewDefinition("busy", func(_ context.Context, _ struct{}) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil, nil
	}))

	startEngine(t, eng)
	if h := eng.Health(); h.State != engine.Healthy {
		t.Errorf("idle health = %q, want healthy", h.State)
	}

	j, _ := engine.Enqueue(context.Background(), eng, "busy", struct{}{})
	<-started
	if h := eng.Health(); h.State != engine.Degraded || h.Active != 1 {
		t.Errorf("saturated health = %+v, want degraded with 1 active", eng.Health())
	}

	var backlog []*job.Job
	for range 4 {
		queued, err := engine.Enqueue(context.Background(), eng, "busy", struct{}{})
		if err != nil {
			t.Fatalf("Enqueue backlog: %v", err)
		}
		backlog = append(backlog, queued)
	}
	if h := eng.Health(); h.State != engine.Degraded || h.QueueUtilization < 0.8 {
		t.Errorf("backlogged health = %+v, want degraded at >= 80%% queue utilization", eng.Health())
	}

	close(release)
	waitForStatus(t, eng, j.ID, job.StatusCompleted)
	for _, b := range backlog {
		waitForStatus(t, eng, b.ID, job.StatusCompleted)
	}
}

func TestEngine_StartStopGuards(t *testing.T) {
	eng := engine.New(fastConfig())

	if err := eng.Stop(context.Background()); !errors.Is(err, workq.ErrNotRunning) {
		t.Fatalf("stop before start err = %v, want ErrNotRunning", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Start(context.Background()); !errors.Is(err, workq.ErrAlreadyRunning) {
		t.Fatalf("double start err = %v, want ErrAlreadyRunning", err)
	}
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestEngine_CleanupSweepsExpiredHistory(t *testing.T) {
	cfg := fastConfig()
	cfg.CleanupInterval = 20 * time.Millisecond
	cfg.CompletedTTL = 40 * time.Millisecond
	eng := engine.New(cfg)

	engine.Register(eng, job.NewDefinition("ephemeral", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))

	j, err := engine.Enqueue(context.Background(), eng, "ephemeral", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startEngine(t, eng)
	waitForStatus(t, eng, j.ID, job.StatusCompleted)

	waitFor(t, func() bool {
		_, err := eng.GetJob(j.ID)
		return errors.Is(err, workq.ErrJobNotFound)
	}, "timed out waiting for history sweep to evict the job")
}

func TestEngine_PeriodicMetricsReporting(t *testing.T) {
	cfg := fastConfig()
	cfg.MetricsInterval = 20 * time.Millisecond
	eng := engine.New(cfg)

	var reports atomic.Int32
	eng.AddMetricsReporter(func(_ metrics.Snapshot) { reports.Add(1) })

	startEngine(t, eng)
	waitFor(t, func() bool { return reports.Load() >= 2 }, "timed out waiting for periodic metric reports")
}
