// Package escrow persists escrow records keyed by their derived address.
package escrow

import (
	"context"
	"sync"

	"splitvault/internal/settlement/models"
	"splitvault/pkg/domain"
	"splitvault/pkg/platform/sentinel"
)

// InMemoryStore keeps escrows in a map. Records are cloned on the way in and
// out so callers can mutate what they read without a lock.
type InMemoryStore struct {
	mu      sync.RWMutex
	escrows map[domain.Identity]*models.Escrow
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{escrows: make(map[domain.Identity]*models.Escrow)}
}

func (s *InMemoryStore) Create(_ context.Context, e *models.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[e.Address]; ok {
		return sentinel.ErrConflict
	}
	s.escrows[e.Address] = e.Clone()
	return nil
}

func (s *InMemoryStore) FindByAddress(_ context.Context, address domain.Identity) (*models.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, e *models.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[e.Address]; !ok {
		return sentinel.ErrNotFound
	}
	s.escrows[e.Address] = e.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, address domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[address]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.escrows, address)
	return nil
}

// ListByPayer returns the payer's open escrows in no particular order.
func (s *InMemoryStore) ListByPayer(_ context.Context, payer domain.Identity) ([]*models.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Escrow
	for _, e := range s.escrows {
		if e.Payer == payer {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}
