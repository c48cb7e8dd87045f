package scheduler

import (
	"sync"

	"github.com/cyverse-de/meeting-notifier/model"
)

// Triggerer is anything that can be asked to run a cycle early.
type Triggerer interface {
	Trigger() bool
}

// Set keeps track of per-user loops so that cycles can be triggered by user ID.
type Set struct {
	mu    sync.RWMutex
	loops map[model.ID]Triggerer
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{loops: make(map[model.ID]Triggerer)}
}

// Add registers the loop for a user, replacing any existing registration.
func (s *Set) Add(userID model.ID, loop Triggerer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops[userID] = loop
}

// Trigger asks the user's loop to run a cycle early. The first return value is false if no loop is
// registered for the user; the second is false if the loop isn't running.
func (s *Set) Trigger(userID model.ID) (found, accepted bool) {
	s.mu.RLock()
	loop, ok := s.loops[userID]
	s.mu.RUnlock()
	if !ok {
		return false, false
	}
	return true, loop.Trigger()
}
