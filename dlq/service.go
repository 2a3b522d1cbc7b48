// Package dlq provides the dead letter queue for jobs that exhausted
// their retry budget. Entries are inspectable and may be replayed by an
// administrator; the engine never replays them automatically.
package dlq

import (
	"context"
	"time"

	"github.com/stagepass/workq"
	"github.com/stagepass/workq/id"
	"github.com/stagepass/workq/job"
)

// Requeuer re-admits a replayed job into the pending queue. The engine
// implements it so replays go through the same admission path (queue
// ceiling, lifecycle events) as fresh enqueues.
type Requeuer interface {
	Requeue(ctx context.Context, j *job.Job) error
}

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store    *Store
	requeuer Requeuer
}

// NewService creates a dead letter service. The requeuer may be nil if
// replay support is not needed (Replay then returns ErrNotRunning).
func NewService(store *Store, requeuer Requeuer) *Service {
	return &Service{store: store, requeuer: requeuer}
}

// Push builds an Entry from a terminally failed job and stores it.
// The job record is retained as-is, LastError already set by the executor.
func (s *Service) Push(_ context.Context, j *job.Job, jobErr error) *Entry {
	entry := &Entry{
		ID:       id.NewDLQID(),
		Job:      j,
		Error:    jobErr.Error(),
		FailedAt: time.Now().UTC(),
	}
	s.store.Push(entry)
	return entry
}

// Replay re-enqueues a dead-lettered job as a new pending job and marks
// the entry as replayed. The new job gets a fresh ID, a full retry
// budget, and the original payload, priority, and correlation ID.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry := s.store.Get(entryID)
	if entry == nil {
		return nil, workq.ErrDLQNotFound
	}
	if s.requeuer == nil {
		return nil, workq.ErrNotRunning
	}

	now := time.Now().UTC()
	original := entry.Job
	j := &job.Job{
		ID:            id.NewJobID(),
		Type:          original.Type,
		Payload:       original.Payload,
		Priority:      original.Priority,
		Tier:          original.Tier,
		Status:        job.StatusPending,
		MaxRetries:    original.MaxRetries,
		Retries:       original.MaxRetries,
		Timeout:       original.Timeout,
		CorrelationID: original.CorrelationID,
		CreatedAt:     now,
		ScheduledFor:  now,
	}

	// Snapshot before requeue: admission hands the record to the
	// dispatcher, which may start mutating it immediately.
	snapshot := j.Clone()
	if err := s.requeuer.Requeue(ctx, j); err != nil {
		return nil, err
	}

	s.store.MarkReplayed(entryID)
	return snapshot, nil
}

// Store returns the underlying store for direct List/Get/Purge/Count
// access.
func (s *Service) Store() *Store { return s.store }
