// Package memstore is the in-memory SlotStore used by tests and by
// deployments that accept losing in-flight jobs on restart.
package memstore

import (
	"context"
	"sync"

	"meshforge/internal/core/domain"
	"meshforge/internal/core/ports"
)

type Store struct {
	mu    sync.RWMutex
	slots map[string]domain.SlotState
}

var _ ports.SlotStore = (*Store)(nil)

func New() *Store {
	return &Store{slots: make(map[string]domain.SlotState)}
}

func (s *Store) Load(_ context.Context, slot string) (*domain.SlotState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.slots[slot]
	if !ok {
		return nil, nil
	}
	cp := state
	return &cp, nil
}

func (s *Store) Save(_ context.Context, state *domain.SlotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[state.Slot] = *state
	return nil
}

func (s *Store) Clear(_ context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, slot)
	return nil
}
