// Package patent persists the patent registry, keyed by the normalized
// patent number's digest. Strictly create-once: a discriminant is claimable
// exactly once, ever.
package patent

import (
	"context"
	"sync"

	"custodia/internal/patents/models"
	"custodia/pkg/platform/sentinel"
)

type InMemory struct {
	mu      sync.RWMutex
	patents map[[32]byte]models.Patent
}

func NewInMemory() *InMemory {
	return &InMemory{patents: make(map[[32]byte]models.Patent)}
}

func (s *InMemory) Create(_ context.Context, p *models.Patent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patents[p.Discriminant]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.patents[p.Discriminant] = *p
	return nil
}

func (s *InMemory) FindByDiscriminant(_ context.Context, discriminant [32]byte) (*models.Patent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patents[discriminant]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := p
	return &clone, nil
}
