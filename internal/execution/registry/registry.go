// Package registry provides the owned in-memory stores for baskets and
// positions. Stores are injected into components at construction; there is no
// ambient global state.
package registry

import (
	"sync"

	"github.com/Aidin1998/basketexec/internal/execution/model"
	pkgerrors "github.com/Aidin1998/basketexec/pkg/errors"
)

// BasketStore holds the live baskets keyed by id.
type BasketStore struct {
	mu      sync.RWMutex
	baskets map[string]*model.Basket
}

// NewBasketStore creates an empty basket store.
func NewBasketStore() *BasketStore {
	return &BasketStore{baskets: make(map[string]*model.Basket)}
}

// Put registers a basket, rejecting duplicate ids.
func (s *BasketStore) Put(b *model.Basket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.baskets[b.ID]; ok {
		return pkgerrors.NewValidation("basket_id", "basket already exists: "+b.ID)
	}
	s.baskets[b.ID] = b
	return nil
}

// Get returns the basket with the given id.
func (s *BasketStore) Get(id string) (*model.Basket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baskets[id]
	if !ok {
		return nil, pkgerrors.NewNotFound("basket", id)
	}
	return b, nil
}

// Delete removes the basket with the given id.
func (s *BasketStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.baskets[id]; !ok {
		return pkgerrors.NewNotFound("basket", id)
	}
	delete(s.baskets, id)
	return nil
}

// List returns all registered baskets.
func (s *BasketStore) List() []*model.Basket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Basket, 0, len(s.baskets))
	for _, b := range s.baskets {
		out = append(out, b)
	}
	return out
}

// PositionRegistry maps a position id to the most recent instruction acting
// on it. One active instruction per position at a time.
type PositionRegistry struct {
	mu        sync.RWMutex
	positions map[string]*model.Instruction
}

// NewPositionRegistry creates an empty position registry.
func NewPositionRegistry() *PositionRegistry {
	return &PositionRegistry{positions: make(map[string]*model.Instruction)}
}

// Bind associates a position id with its latest instruction. An existing
// binding to a still-active instruction is rejected.
func (r *PositionRegistry) Bind(in *model.Instruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.positions[in.PositionID]; ok && prev.Status().Active() && prev.ID != in.ID {
		return pkgerrors.NewValidation("position_id", "position has an active instruction: "+in.PositionID)
	}
	r.positions[in.PositionID] = in
	return nil
}

// Lookup returns the latest instruction for a position id.
func (r *PositionRegistry) Lookup(positionID string) (*model.Instruction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.positions[positionID]
	if !ok {
		return nil, pkgerrors.NewNotFound("position", positionID)
	}
	return in, nil
}
