package saga

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StateStore keeps the one fact a bounded context needs to compensate later,
// keyed by correlation ID. Each store is owned by exactly one context; no
// other context ever reads or writes it. Absence of a record is a
// first-class result, not an error: it means "I never completed work for
// this process, so there is nothing to undo".
type StateStore[T any] interface {
	// Store records the fact for a correlation ID, overwriting any
	// previous record.
	Store(ctx context.Context, correlationID uuid.UUID, fact T) error
	// Find returns the fact and whether one exists.
	Find(ctx context.Context, correlationID uuid.UUID) (T, bool, error)
	// Clear removes the record. Compensation handlers clear after
	// compensating, which is what makes a duplicate rejection a no-op.
	Clear(ctx context.Context, correlationID uuid.UUID) error
}

// MemoryStateStore is the in-process StateStore used by tests and
// single-process wiring. Durable implementations live in adapters/store.
type MemoryStateStore[T any] struct {
	mu    sync.RWMutex
	facts map[uuid.UUID]T
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore[T any]() *MemoryStateStore[T] {
	return &MemoryStateStore[T]{facts: make(map[uuid.UUID]T)}
}

func (s *MemoryStateStore[T]) Store(ctx context.Context, correlationID uuid.UUID, fact T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[correlationID] = fact
	return nil
}

func (s *MemoryStateStore[T]) Find(ctx context.Context, correlationID uuid.UUID) (T, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fact, ok := s.facts[correlationID]
	return fact, ok, nil
}

func (s *MemoryStateStore[T]) Clear(ctx context.Context, correlationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, correlationID)
	return nil
}
