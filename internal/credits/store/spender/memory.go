// Package spender persists delegated-spend authorizations, keyed by the
// spender's identity. Upsert semantics: authorizing an unknown spender
// creates its record, re-authorizing updates it in place.
package spender

import (
	"context"
	"sync"

	"custodia/internal/credits/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	spenders map[id.Identity]models.Spender
}

func NewInMemory() *InMemory {
	return &InMemory{spenders: make(map[id.Identity]models.Spender)}
}

func (s *InMemory) Upsert(_ context.Context, sp *models.Spender) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.spenders[sp.Spender]; ok {
		// accrued totals survive re-authorization
		sp.TotalSpent = existing.TotalSpent
	}
	s.spenders[sp.Spender] = *sp
	return nil
}

func (s *InMemory) Find(_ context.Context, spender id.Identity) (*models.Spender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spenders[spender]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := sp
	return &clone, nil
}

func (s *InMemory) Update(_ context.Context, sp *models.Spender) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spenders[sp.Spender]; !ok {
		return sentinel.ErrNotFound
	}
	s.spenders[sp.Spender] = *sp
	return nil
}
