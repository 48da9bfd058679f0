// Package userstats stores per-user payment accruals.
package userstats

import (
	"context"
	"sync"

	"custodia/internal/payments/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemory is a map-backed store for tests and single-node runs.
type InMemory struct {
	mu    sync.RWMutex
	stats map[id.Identity]models.UserStats
}

func NewInMemory() *InMemory {
	return &InMemory{stats: make(map[id.Identity]models.UserStats)}
}

// CreateOrGet returns the existing record, or installs and returns a zeroed
// one. Never resets accrued totals.
func (s *InMemory) CreateOrGet(_ context.Context, user id.Identity) (*models.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[user]
	if !ok {
		st = models.UserStats{User: user}
		s.stats[user] = st
	}
	out := st
	return &out, nil
}

func (s *InMemory) Find(_ context.Context, user id.Identity) (*models.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[user]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := st
	return &out, nil
}

func (s *InMemory) Update(_ context.Context, st *models.UserStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stats[st.User]; !ok {
		return sentinel.ErrNotFound
	}
	s.stats[st.User] = *st
	return nil
}
