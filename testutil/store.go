package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

// MemoryStateStore is an in-memory pump.StateStore.
type MemoryStateStore struct {
	mu      sync.RWMutex
	states  map[int]pump.State
	loadErr error
	saveErr error
	saves   int
}

var _ pump.StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[int]pump.State)}
}

// Load returns the state of pump id or errors.ErrKeyNotFound, or the error
// set with SetLoadError.
func (s *MemoryStateStore) Load(_ context.Context, id int) (pump.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loadErr != nil {
		return pump.State{}, s.loadErr
	}
	state, ok := s.states[id]
	if !ok {
		return pump.State{}, errors.WrapInvalid(errors.ErrKeyNotFound, "MemoryStateStore", "Load",
			fmt.Sprintf("get pump %d", id))
	}
	return state, nil
}

// Save stores state, or returns the error set with SetSaveError.
func (s *MemoryStateStore) Save(_ context.Context, state pump.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.states[state.PumpID] = state
	s.saves++
	return nil
}

// SetLoadError makes Load fail with err. Nil clears it.
func (s *MemoryStateStore) SetLoadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// SetSaveError makes Save fail with err. Nil clears it.
func (s *MemoryStateStore) SetSaveError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Saves returns the number of successful saves.
func (s *MemoryStateStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
