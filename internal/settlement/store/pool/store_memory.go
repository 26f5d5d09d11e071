// Package pool persists pool records keyed by their derived address.
package pool

import (
	"context"
	"sync"

	"splitvault/internal/settlement/models"
	"splitvault/pkg/domain"
	"splitvault/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	pools map[domain.Identity]*models.Pool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{pools: make(map[domain.Identity]*models.Pool)}
}

func (s *InMemoryStore) Create(_ context.Context, p *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[p.Address]; ok {
		return sentinel.ErrConflict
	}
	s.pools[p.Address] = p.Clone()
	return nil
}

func (s *InMemoryStore) FindByAddress(_ context.Context, address domain.Identity) (*models.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, p *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[p.Address]; !ok {
		return sentinel.ErrNotFound
	}
	s.pools[p.Address] = p.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, address domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[address]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.pools, address)
	return nil
}
