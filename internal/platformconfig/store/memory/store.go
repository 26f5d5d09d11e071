// Package memory keeps the platform configuration in process memory.
package memory

import (
	"context"
	"sync"

	"splitvault/internal/platformconfig/models"
	"splitvault/pkg/platform/sentinel"
)

type Store struct {
	mu  sync.RWMutex
	cfg *models.PlatformConfig
}

func New() *Store {
	return &Store{}
}

func (s *Store) Get(_ context.Context) (*models.PlatformConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.cfg.Clone(), nil
}

func (s *Store) Create(_ context.Context, cfg *models.PlatformConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return sentinel.ErrConflict
	}
	s.cfg = cfg.Clone()
	return nil
}

func (s *Store) Save(_ context.Context, cfg *models.PlatformConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return sentinel.ErrNotFound
	}
	s.cfg = cfg.Clone()
	return nil
}
