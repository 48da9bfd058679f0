// Package listing persists marketplace listings, keyed by the escrowed
// asset. The registry is create-once: a retired listing permanently occupies
// its asset's slot.
package listing

import (
	"context"
	"sync"

	"custodia/internal/marketplace/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

// InMemory keeps listings in a map. Serialization of read-then-write
// operations is the service's job (operation lock); the store only
// guarantees its own consistency.
type InMemory struct {
	mu       sync.RWMutex
	listings map[id.AssetID]models.Listing
}

func NewInMemory() *InMemory {
	return &InMemory{listings: make(map[id.AssetID]models.Listing)}
}

func (s *InMemory) Create(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.Asset]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.listings[l.Asset] = *l
	return nil
}

func (s *InMemory) FindByAsset(_ context.Context, asset id.AssetID) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[asset]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := l
	return &clone, nil
}

func (s *InMemory) Update(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.Asset]; !ok {
		return sentinel.ErrNotFound
	}
	s.listings[l.Asset] = *l
	return nil
}

func (s *InMemory) ListActive(_ context.Context) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Listing
	for _, l := range s.listings {
		if l.Active {
			out = append(out, l)
		}
	}
	return out, nil
}
