package job

import (
	"encoding/json"
	"time"

	"github.com/stagepass/workq/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting in a tier bucket.
	StatusPending Status = "pending"
	// StatusProcessing means a worker is currently executing the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job exhausted its retry budget and was
	// moved to the dead letter queue.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled while still pending.
	StatusCancelled Status = "cancelled"
)

// ParseStatus converts a string to a known Status. The second return
// value is false for unrecognized values.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// Tier is one of the five priority buckets a job is routed into based on
// its numeric priority. Lower numeric priorities are more urgent.
type Tier string

const (
	TierCritical Tier = "critical" // priority 1–2
	TierHigh     Tier = "high"     // priority 3–4
	TierNormal   Tier = "normal"   // priority 5–6
	TierLow      Tier = "low"      // priority 7–8
	TierBulk     Tier = "bulk"     // priority 9–10
)

// Tiers lists all tiers in dispatch order, most urgent first.
var Tiers = []Tier{TierCritical, TierHigh, TierNormal, TierLow, TierBulk}

// MinPriority and MaxPriority bound the priority scale. 1 is most urgent.
const (
	MinPriority = 1
	MaxPriority = 10
)

// ClampPriority forces p into the valid 1–10 range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// TierFor maps a numeric priority to its tier. The priority is clamped
// first, so any int is safe to pass.
func TierFor(priority int) Tier {
	switch p := ClampPriority(priority); {
	case p <= 2:
		return TierCritical
	case p <= 4:
		return TierHigh
	case p <= 6:
		return TierNormal
	case p <= 8:
		return TierLow
	default:
		return TierBulk
	}
}

// Job represents a unit of deferred work. It is created by the engine's
// enqueue path, mutated by the dispatcher and executor during processing,
// and destroyed only by TTL-based cleanup or explicit cancellation while
// still pending.
type Job struct {
	ID            id.JobID        `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      int             `json:"priority"`
	Tier          Tier            `json:"tier"`
	Status        Status          `json:"status"`
	MaxRetries    int             `json:"max_retries"`
	Retries       int             `json:"retries"` // attempts remaining
	Attempts      int             `json:"attempts"`
	Timeout       time.Duration   `json:"timeout"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	ScheduledFor  time.Time       `json:"scheduled_for"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Progress      int             `json:"progress"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// Clone returns a deep enough copy of the job for handing across store
// boundaries. Payload and Result are immutable once set, so sharing the
// underlying bytes is fine.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Eligible reports whether the job may be dispatched at the given time.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == StatusPending && !j.ScheduledFor.After(now)
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
