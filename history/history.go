// Package history retains finished jobs (completed or cancelled) for
// result lookup after the fact. Entries are evicted by the engine's
// periodic cleanup sweep once they outlive the completed-job TTL.
package history

import (
	"sync"
	"time"

	"github.com/stagepass/workq/id"
	"github.com/stagepass/workq/job"
)

// Store is a TTL-expiring map of finished jobs. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	jobs map[id.JobID]*job.Job
}

// New creates an empty history store.
func New() *Store {
	return &Store{jobs: make(map[id.JobID]*job.Job)}
}

// Put records a finished job. The store takes ownership of the pointer.
func (s *Store) Put(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

// Get returns a copy of the finished job with the given ID, or nil.
func (s *Store) Get(jobID id.JobID) *job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	return j.Clone()
}

// JobsByType returns copies of all retained jobs of the given type.
func (s *Store) JobsByType(jobType string) []*job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*job.Job
	for _, j := range s.jobs {
		if j.Type == jobType {
			result = append(result, j.Clone())
		}
	}
	return result
}

// Len returns the number of retained jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep evicts jobs whose CompletedAt is before cutoff and returns the
// number removed. Jobs without a CompletedAt are never evicted here;
// that would indicate a bookkeeping bug upstream, not expired data.
func (s *Store) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for jobID, j := range s.jobs {
		if j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, jobID)
			removed++
		}
	}
	return removed
}
