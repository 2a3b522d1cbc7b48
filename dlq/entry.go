package dlq

import (
	"time"

	"github.com/stagepass/workq/id"
	"github.com/stagepass/workq/job"
)

// Entry represents a job that exhausted its retry budget and was moved to
// the dead letter queue for inspection or administrative replay. The full
// job record is retained so the original payload, priority, and error
// trail stay available for debugging.
type Entry struct {
	ID         id.DLQID   `json:"id"`
	Job        *job.Job   `json:"job"`
	Error      string     `json:"error"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}
