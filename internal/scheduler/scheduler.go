// Package scheduler bounds how many transfers run at once and keeps the rest in FIFO order.
package scheduler

import (
	"container/list"
	"errors"
)

// DefaultMaxConcurrent is the running-set bound used when none is configured.
const DefaultMaxConcurrent = 3

// ErrAlreadyAdmitted is returned by Admit for an id that is already running or queued.
var ErrAlreadyAdmitted = errors.New("scheduler: item already admitted")

// Admission is the outcome of Admit.
type Admission int

const (
	Running Admission = iota
	Queued
)

func (a Admission) String() string {
	if a == Running {
		return "running"
	}

	return "queued"
}

func (a Admission) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Entry is an id with its task handle.
type Entry[T any] struct {
	ID     string
	Handle T
}

// Scheduler owns two disjoint sets of task handles keyed by item id: running and queued.
// len(running) never exceeds the configured bound. Queue order is admission order.
//
// Scheduler is not safe for concurrent use; the owner serializes every call.
type Scheduler[T any] struct {
	maxConcurrent int
	running       map[string]T
	queued        map[string]*list.Element
	order         *list.List // of Entry[T], front is oldest
}

// New returns a Scheduler allowing maxConcurrent running tasks.
// Values below 1 fall back to DefaultMaxConcurrent.
func New[T any](maxConcurrent int) *Scheduler[T] {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}

	return &Scheduler[T]{
		maxConcurrent: maxConcurrent,
		running:       make(map[string]T),
		queued:        make(map[string]*list.Element),
		order:         list.New(),
	}
}

// Admit inserts id into running if a slot is free, else at the back of the queue.
func (s *Scheduler[T]) Admit(id string, handle T) (Admission, error) {
	if s.Contains(id) {
		return 0, ErrAlreadyAdmitted
	}

	if len(s.running) < s.maxConcurrent {
		s.running[id] = handle

		return Running, nil
	}

	s.enqueue(id, handle)

	return Queued, nil
}

// Get looks in running, then queued.
func (s *Scheduler[T]) Get(id string) (T, bool) {
	if h, ok := s.running[id]; ok {
		return h, true
	}

	if el, ok := s.queued[id]; ok {
		return el.Value.(Entry[T]).Handle, true
	}

	var zero T

	return zero, false
}

// Contains reports whether id is running or queued.
func (s *Scheduler[T]) Contains(id string) bool {
	_, ok := s.Get(id)

	return ok
}

// IsRunning reports whether id is in the running set.
func (s *Scheduler[T]) IsRunning(id string) bool {
	_, ok := s.running[id]

	return ok
}

// Replace swaps the handle of a present id without changing its set or queue position.
// It reports false when id is absent.
func (s *Scheduler[T]) Replace(id string, handle T) bool {
	if _, ok := s.running[id]; ok {
		s.running[id] = handle

		return true
	}

	if el, ok := s.queued[id]; ok {
		el.Value = Entry[T]{ID: id, Handle: handle}

		return true
	}

	return false
}

// Restore re-registers a handle whose membership was decided outside this process.
// A present id is replaced in place. Otherwise the handle joins running when the transport
// reports it running and a slot is free, and the back of the queue in every other case.
// It returns the set the handle ended up in.
func (s *Scheduler[T]) Restore(id string, handle T, running bool) Admission {
	if s.Replace(id, handle) {
		if s.IsRunning(id) {
			return Running
		}

		return Queued
	}

	if running && len(s.running) < s.maxConcurrent {
		s.running[id] = handle

		return Running
	}

	s.enqueue(id, handle)

	return Queued
}

// Remove deletes id from both sets. Absent ids are ignored.
func (s *Scheduler[T]) Remove(id string) {
	delete(s.running, id)

	if el, ok := s.queued[id]; ok {
		s.order.Remove(el)
		delete(s.queued, id)
	}
}

// PromoteNext moves the oldest queued entry into running if a slot is free.
// Call it until it reports false: several slots may have freed at once.
func (s *Scheduler[T]) PromoteNext() (Entry[T], bool) {
	if len(s.running) >= s.maxConcurrent || s.order.Len() == 0 {
		return Entry[T]{}, false
	}

	el := s.order.Front()
	entry := el.Value.(Entry[T])

	s.order.Remove(el)
	delete(s.queued, entry.ID)
	s.running[entry.ID] = entry.Handle

	return entry, true
}

// Running returns the number of running entries.
func (s *Scheduler[T]) Running() int { return len(s.running) }

// Queued returns the number of queued entries.
func (s *Scheduler[T]) Queued() int { return s.order.Len() }

// MaxConcurrent returns the running-set bound.
func (s *Scheduler[T]) MaxConcurrent() int { return s.maxConcurrent }

// QueuedIDs returns queued ids, oldest first.
func (s *Scheduler[T]) QueuedIDs() []string {
	ids := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(Entry[T]).ID)
	}

	return ids
}

// RunningIDs returns running ids in no particular order.
func (s *Scheduler[T]) RunningIDs() []string {
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}

	return ids
}

func (s *Scheduler[T]) enqueue(id string, handle T) {
	s.queued[id] = s.order.PushBack(Entry[T]{ID: id, Handle: handle})
}
