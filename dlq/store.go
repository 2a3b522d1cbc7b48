package dlq

import (
	"sort"
	"sync"
	"time"

	"github.com/stagepass/workq/id"
)

// Store is the in-memory dead letter store: append-only, bounded by
// TTL-based eviction rather than by count. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[id.DLQID]*Entry
}

// NewStore creates an empty dead letter store.
func NewStore() *Store {
	return &Store{entries: make(map[id.DLQID]*Entry)}
}

// Push adds an entry.
func (s *Store) Push(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
}

// Get retrieves an entry by its dead letter ID, or nil.
func (s *Store) Get(entryID id.DLQID) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[entryID]
}

// GetByJobID retrieves the entry holding the given job, or nil.
func (s *Store) GetByJobID(jobID id.JobID) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.Job != nil && e.Job.ID == jobID {
			return e
		}
	}
	return nil
}

// List returns all entries ordered by FailedAt ascending.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})
	return result
}

// MarkReplayed stamps ReplayedAt on an entry. Returns false if the entry
// does not exist.
func (s *Store) MarkReplayed(entryID id.DLQID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return true
}

// Purge removes entries with FailedAt before the given time and returns
// the number removed.
func (s *Store) Purge(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.FailedAt.Before(before) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
