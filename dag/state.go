package dag

import (
	"fmt"
	"sync"
)

// State carries values between the nodes of one execution. A node writes
// its output under its own key; dependents read it after the node finished.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState returns an empty State.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	return v, ok
}

// Set stores value under key, replacing what was there.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Port names a State key together with the type stored under it, so the
// writer and its readers agree on both.
type Port[T any] struct {
	Key string
}

// Read returns the value at port. A missing key, which happens when the
// producing node wrote nothing, and a type mismatch are both errors.
func Read[T any](state *State, port Port[T]) (T, error) {
	var zero T
	raw, ok := state.Get(port.Key)
	if !ok {
		return zero, fmt.Errorf("dag: nothing written at %q", port.Key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("dag: %q holds %T, want %T", port.Key, raw, zero)
	}
	return v, nil
}

// Write stores value at port.
func Write[T any](state *State, port Port[T], value T) {
	state.Set(port.Key, value)
}
