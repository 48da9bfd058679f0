// Package configstore persists each service's singleton configuration
// record: admin identity, fee and price parameters, pause flag, and
// monotonic counters. Created once at bootstrap, mutated only through
// admin-gated operations, never destroyed.
package configstore

import (
	"context"
	"sync"

	"custodia/pkg/platform/sentinel"
)

// Store holds one service's config record. Mutations happen under the
// service's operation lock, so implementations only provide storage, not
// serialization.
type Store[T any] interface {
	// Create installs the record. Fails with ErrAlreadyExists once a
	// record exists; config records are create-once.
	Create(ctx context.Context, record *T) error
	Get(ctx context.Context) (*T, error)
	Update(ctx context.Context, record *T) error
}

// Memory is the in-memory config store.
type Memory[T any] struct {
	mu     sync.RWMutex
	record *T
}

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{}
}

func (m *Memory[T]) Create(_ context.Context, record *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record != nil {
		return sentinel.ErrAlreadyExists
	}
	clone := *record
	m.record = &clone
	return nil
}

func (m *Memory[T]) Get(_ context.Context) (*T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.record == nil {
		return nil, sentinel.ErrNotFound
	}
	clone := *m.record
	return &clone, nil
}

func (m *Memory[T]) Update(_ context.Context, record *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return sentinel.ErrNotFound
	}
	clone := *record
	m.record = &clone
	return nil
}
