// Package queue implements the pending-job store: five ordered buckets,
// one per priority tier, with strict-priority, FIFO-within-tier dispatch.
//
// DequeueNext scans tiers in fixed order (critical → bulk) and returns the
// first eligible job, so a saturated critical tier can starve lower tiers
// indefinitely. That is a documented trade-off of the scheduling policy,
// not a bug.
package queue

import (
	"sync"
	"time"

	"github.com/stagepass/workq/id"
	"github.com/stagepass/workq/job"
)

// Store holds pending jobs in per-tier FIFO buckets. Safe for concurrent
// use. Enqueue and DequeueNext transfer ownership of the *job.Job; all
// read accessors return defensive copies.
type Store struct {
	mu      sync.RWMutex
	buckets map[job.Tier][]*job.Job
}

// New creates an empty tiered store.
func New() *Store {
	buckets := make(map[job.Tier][]*job.Job, len(job.Tiers))
	for _, tier := range job.Tiers {
		buckets[tier] = nil
	}
	return &Store{buckets: buckets}
}

// Enqueue appends the job to the tail of its tier's bucket.
func (s *Store) Enqueue(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[j.Tier] = append(s.buckets[j.Tier], j)
}

// DequeueNext scans tiers in dispatch order and removes and returns the
// first pending job with ScheduledFor ≤ now. Returns nil when no job is
// eligible. The O(n) scan-and-splice is deliberate: buckets are small and
// this is not a hot path that warrants a heap.
func (s *Store) DequeueNext(now time.Time) *job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tier := range job.Tiers {
		bucket := s.buckets[tier]
		for i, j := range bucket {
			if !j.Eligible(now) {
				continue
			}
			s.buckets[tier] = append(bucket[:i:i], bucket[i+1:]...)
			return j
		}
	}
	return nil
}

// Remove removes the job with the given ID from its bucket and returns
// it, or nil if the job is not queued. Used by the cancellation path.
func (s *Store) Remove(jobID id.JobID) *job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tier := range job.Tiers {
		bucket := s.buckets[tier]
		for i, j := range bucket {
			if j.ID == jobID {
				s.buckets[tier] = append(bucket[:i:i], bucket[i+1:]...)
				return j
			}
		}
	}
	return nil
}

// Get returns a copy of the queued job with the given ID, or nil.
func (s *Store) Get(jobID id.JobID) *job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, bucket := range s.buckets {
		for _, j := range bucket {
			if j.ID == jobID {
				return j.Clone()
			}
		}
	}
	return nil
}

// JobsByType returns copies of all queued jobs of the given type, in
// tier then FIFO order.
func (s *Store) JobsByType(jobType string) []*job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*job.Job
	for _, tier := range job.Tiers {
		for _, j := range s.buckets[tier] {
			if j.Type == jobType {
				result = append(result, j.Clone())
			}
		}
	}
	return result
}

// Len returns the total number of queued jobs across all tiers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, bucket := range s.buckets {
		total += len(bucket)
	}
	return total
}

// Depths returns the per-tier queue sizes.
func (s *Store) Depths() map[job.Tier]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	depths := make(map[job.Tier]int, len(job.Tiers))
	for _, tier := range job.Tiers {
		depths[tier] = len(s.buckets[tier])
	}
	return depths
}
