package indexer

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrIndexInProgress is returned when a run for the same root is active
	ErrIndexInProgress = errors.New("indexing already in progress")
	// ErrInactive is returned when a run was deactivated between stages
	ErrInactive = errors.New("indexing deactivated")
)

// IndexLock provides non-blocking lock semantics using atomic operations.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently held
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

// run is the active flag of one indexing run
type run struct {
	lock   IndexLock
	active atomic.Bool
}

// ActiveSet tracks which project roots are being indexed. A run holds its
// root's lock for its whole duration; Deactivate clears the run's active
// flag so it stops at the next stage boundary.
type ActiveSet struct {
	mu   sync.Mutex
	runs map[string]*run
}

// NewActiveSet creates an empty set
func NewActiveSet() *ActiveSet {
	return &ActiveSet{runs: make(map[string]*run)}
}

// begin marks root active, failing if a run already holds it
func (s *ActiveSet) begin(root string) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[root]
	if !ok {
		r = &run{}
		s.runs[root] = r
	}
	if !r.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	r.active.Store(true)
	return r, nil
}

// end releases root
func (s *ActiveSet) end(root string, r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.active.Store(false)
	r.lock.Release()
	if s.runs[root] == r {
		delete(s.runs, root)
	}
}

// Deactivate asks the run for root to stop after its current stage. It
// reports whether a run was active.
func (s *ActiveSet) Deactivate(root string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[root]
	if !ok || !r.lock.Held() {
		return false
	}
	return r.active.Swap(false)
}

// Active reports whether root is being indexed and still active
func (s *ActiveSet) Active(root string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[root]
	return ok && r.active.Load()
}

// Roots returns the roots with a run in progress
func (s *ActiveSet) Roots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.runs))
	for root, r := range s.runs {
		if r.lock.Held() {
			out = append(out, root)
		}
	}
	return out
}
