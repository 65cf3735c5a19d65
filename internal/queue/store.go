// Package queue holds parsed actions while they await an approval decision.
package queue

import (
	"sync"

	"github.com/toolq/toolq/internal/action"
)

// Store is the ordered set of pending actions, keyed by id. Insertion order
// is preserved and determines both display order and bulk execution order.
// Emptiness and per-kind queries are recomputed from the live contents on
// every call; nothing here caches a derived flag.
//
// Core processing is sequential, but the REPL and server surfaces share a
// store across goroutines, so access is guarded.
type Store struct {
	mu      sync.RWMutex
	actions []action.Action
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add appends actions in the order given.
func (s *Store) Add(acts ...action.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, acts...)
}

// Get returns the action with the given id without removing it.
func (s *Store) Get(id string) (action.Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, act := range s.actions {
		if act.ID == id {
			return act, true
		}
	}
	return action.Action{}, false
}

// Take removes and returns the action with the given id. The relative order
// of the remaining actions is unchanged.
func (s *Store) Take(id string) (action.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, act := range s.actions {
		if act.ID == id {
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			return act, true
		}
	}
	return action.Action{}, false
}

// List returns a snapshot of the pending actions in insertion order.
func (s *Store) List() []action.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]action.Action, len(s.actions))
	copy(out, s.actions)
	return out
}

// Len reports how many actions are pending.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions)
}

// HasApprovable reports whether any non-shell action is pending. Shell
// actions are excluded from bulk approval, so this drives whether an
// "approve all" affordance is offered at all.
func (s *Store) HasApprovable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, act := range s.actions {
		if act.Kind != action.KindShell {
			return true
		}
	}
	return false
}

// Clear removes every pending action and reports how many were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.actions)
	s.actions = nil
	return n
}
