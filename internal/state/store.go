package state

import (
	"sync"
	"time"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
)

// Store holds the last known queue snapshot and derives per-entity
// transition events by diffing each new snapshot against the one before it.
// Polling delivers no event stream, so "what changed" is always computed
// from two full snapshots, never trusted from a delta message.
//
// All writes funnel through Apply, called from the snapshot poller's single
// loop; reads may come from any goroutine.
type Store struct {
	mu      sync.RWMutex
	snap    *domain.QueueSnapshot
	byJobID map[string]domain.QueueEntry
	now     func() time.Time
}

// NewStore creates an empty store. Until the first Apply, point queries miss
// and Counts is zero.
func NewStore() *Store {
	return &Store{
		byJobID: make(map[string]domain.QueueEntry),
		now:     time.Now,
	}
}

// Apply installs snap as the current snapshot and returns the transition
// events derived from the diff, finished entities first, then newly started
// ones, each in snapshot order.
//
// An entity that passes through several states within one poll gap is only
// observed in its final state; intermediate transitions are never
// synthesized. That is the accepted bounded-staleness trade-off of polling.
func (s *Store) Apply(snap *domain.QueueSnapshot) []domain.TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevRunning := make(map[string]domain.QueueEntry)
	if s.snap != nil {
		for _, e := range s.snap.Running {
			prevRunning[e.JobID] = e
		}
	}

	observed := s.now().UTC()
	var transitions []domain.TransitionEvent

	newRunning := make(map[string]struct{}, len(snap.Running))
	for _, e := range snap.Running {
		newRunning[e.JobID] = struct{}{}
	}

	// Previously running entities that left the running set resolved to
	// exactly one of history (success) or failed.
	for _, e := range snap.History {
		prev, was := prevRunning[e.JobID]
		if !was {
			continue
		}
		if _, still := newRunning[e.JobID]; still {
			continue
		}
		transitions = append(transitions, domain.TransitionEvent{
			Kind:       domain.TransitionCompleted,
			JobID:      e.JobID,
			RunID:      prev.RunID,
			ObservedAt: observed,
		})
		delete(prevRunning, e.JobID)
	}
	for _, e := range snap.Failed {
		prev, was := prevRunning[e.JobID]
		if !was {
			continue
		}
		if _, still := newRunning[e.JobID]; still {
			continue
		}
		transitions = append(transitions, domain.TransitionEvent{
			Kind:       domain.TransitionFailed,
			JobID:      e.JobID,
			RunID:      prev.RunID,
			Error:      e.Error,
			ObservedAt: observed,
		})
		delete(prevRunning, e.JobID)
	}

	for _, e := range snap.Running {
		if _, was := prevRunning[e.JobID]; was {
			continue
		}
		transitions = append(transitions, domain.TransitionEvent{
			Kind:       domain.TransitionStarted,
			JobID:      e.JobID,
			RunID:      e.RunID,
			ObservedAt: observed,
		})
	}

	s.snap = snap
	s.rebuildIndex(snap)
	return transitions
}

// rebuildIndex indexes entries by job id in bucket order: pending, then
// running, then failed. When the same job id appears in more than one bucket
// (e.g. a fast retry racing a still-finishing run, which the server leaves
// undefined) the later bucket wins — no tie-break is invented here.
func (s *Store) rebuildIndex(snap *domain.QueueSnapshot) {
	idx := make(map[string]domain.QueueEntry, len(snap.Pending)+len(snap.Running)+len(snap.Failed))
	for _, e := range snap.Pending {
		idx[e.JobID] = e
	}
	for _, e := range snap.Running {
		idx[e.JobID] = e
	}
	for _, e := range snap.Failed {
		idx[e.JobID] = e
	}
	s.byJobID = idx
}

// Snapshot returns the current snapshot, or nil before the first Apply. The
// returned value is shared and must be treated as read-only; Apply replaces
// the pointer wholesale, so concurrent readers are never mutated under.
func (s *Store) Snapshot() *domain.QueueSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// ItemByJobID returns the queue entry currently tracked for jobID in any of
// the pending/running/failed buckets.
func (s *Store) ItemByJobID(jobID string) (domain.QueueEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byJobID[jobID]
	return e, ok
}

// Position returns the 1-based scheduling position of jobID, valid only
// while it is pending.
func (s *Store) Position(jobID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return 0, false
	}
	for _, e := range s.snap.Pending {
		if e.JobID == jobID {
			return e.Position, true
		}
	}
	return 0, false
}

// Counts returns the per-bucket sizes of the current snapshot.
func (s *Store) Counts() domain.QueueCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return domain.QueueCounts{}
	}
	return s.snap.Counts()
}
