package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the tri-state report of one participant inside an aggregate.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Aggregate is the per-correlation record the fanout topology suspends on:
// it waits for every expected participant to report before the saga's
// terminal outcome may be decided. Rejecting earlier would race against a
// slow participant's own state write and lose its compensation signal.
type Aggregate struct {
	CorrelationID uuid.UUID          `json:"correlation_id"`
	Results       map[string]Outcome `json:"results"`
	Reasons       map[string]string  `json:"reasons"`
	Decided       bool               `json:"decided"`
	CreatedAt     time.Time          `json:"created_at"`
	// Version supports optimistic concurrency in durable stores; two
	// result events for the same saga can be processed by different
	// workers at once.
	Version int64 `json:"version"`
}

// NewAggregate opens a pending aggregate expecting the named participants.
func NewAggregate(correlationID uuid.UUID, participants ...string) *Aggregate {
	results := make(map[string]Outcome, len(participants))
	for _, p := range participants {
		results[p] = OutcomePending
	}
	return &Aggregate{
		CorrelationID: correlationID,
		Results:       results,
		Reasons:       make(map[string]string),
		CreatedAt:     time.Now(),
	}
}

// Record stores the outcome reported by one participant. Reports for a
// decided aggregate and reports from unexpected participants are protocol
// violations.
func (a *Aggregate) Record(participant string, succeeded bool, reason string) error {
	if a.Decided {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, a.CorrelationID)
	}
	if _, ok := a.Results[participant]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParticipant, participant)
	}
	if succeeded {
		a.Results[participant] = OutcomeSucceeded
		return nil
	}
	a.Results[participant] = OutcomeFailed
	if reason != "" {
		a.Reasons[participant] = reason
	}
	return nil
}

// Complete reports whether every expected participant has reported.
func (a *Aggregate) Complete() bool {
	for _, outcome := range a.Results {
		if outcome == OutcomePending {
			return false
		}
	}
	return true
}

// AllSucceeded reports whether every participant reported success.
func (a *Aggregate) AllSucceeded() bool {
	for _, outcome := range a.Results {
		if outcome != OutcomeSucceeded {
			return false
		}
	}
	return true
}

// FailureReasons returns a copy of the failed participants' reasons, keyed
// by participant name.
func (a *Aggregate) FailureReasons() map[string]string {
	out := make(map[string]string, len(a.Reasons))
	for p, r := range a.Reasons {
		out[p] = r
	}
	return out
}

// AggregateStore persists outcome aggregates. Mutate is the only write path
// for results: implementations must serialize concurrent mutations of the
// same correlation ID, either with a per-key lock (in memory) or an
// optimistic version check (durable stores).
type AggregateStore interface {
	// Open creates the pending aggregate. Opening an already-open
	// correlation ID is idempotent and keeps the existing record.
	Open(ctx context.Context, agg *Aggregate) error
	// Get returns the aggregate and whether one exists.
	Get(ctx context.Context, correlationID uuid.UUID) (*Aggregate, bool, error)
	// Mutate loads the aggregate, applies fn, and persists the result
	// atomically with respect to other mutations of the same key. It
	// returns ErrAggregateNotFound when no aggregate is open.
	Mutate(ctx context.Context, correlationID uuid.UUID, fn func(*Aggregate) error) (*Aggregate, error)
	// ListStalePending returns correlation IDs still pending after the
	// given age. The core has no timeout; this exists so an external
	// sweep can detect participants that never reported.
	ListStalePending(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
}

// MemoryAggregateStore is the in-process AggregateStore. A per-key mutex
// serializes read-modify-write cycles.
type MemoryAggregateStore struct {
	mu    sync.Mutex
	aggs  map[uuid.UUID]*Aggregate
	locks map[uuid.UUID]*sync.Mutex
}

// NewMemoryAggregateStore creates an empty store.
func NewMemoryAggregateStore() *MemoryAggregateStore {
	return &MemoryAggregateStore{
		aggs:  make(map[uuid.UUID]*Aggregate),
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *MemoryAggregateStore) keyLock(correlationID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[correlationID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[correlationID] = l
	}
	return l
}

func (s *MemoryAggregateStore) Open(ctx context.Context, agg *Aggregate) error {
	l := s.keyLock(agg.CorrelationID)
	l.Lock()
	defer l.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aggs[agg.CorrelationID]; ok {
		return nil
	}
	s.aggs[agg.CorrelationID] = agg
	return nil
}

func (s *MemoryAggregateStore) Get(ctx context.Context, correlationID uuid.UUID) (*Aggregate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggs[correlationID]
	if !ok {
		return nil, false, nil
	}
	cp := copyAggregate(agg)
	return cp, true, nil
}

func (s *MemoryAggregateStore) Mutate(ctx context.Context, correlationID uuid.UUID, fn func(*Aggregate) error) (*Aggregate, error) {
	l := s.keyLock(correlationID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	agg, ok := s.aggs[correlationID]
	var work *Aggregate
	if ok {
		work = copyAggregate(agg)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAggregateNotFound, correlationID)
	}

	// fn runs on a private copy; the stored aggregate is swapped under
	// s.mu, so a concurrent Get never observes a half-applied mutation.
	// The per-key lock serializes the whole read-modify-write cycle.
	if err := fn(work); err != nil {
		return nil, err
	}
	work.Version++

	s.mu.Lock()
	s.aggs[correlationID] = work
	s.mu.Unlock()
	return copyAggregate(work), nil
}

func (s *MemoryAggregateStore) ListStalePending(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, agg := range s.aggs {
		if !agg.Decided && agg.CreatedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func copyAggregate(a *Aggregate) *Aggregate {
	cp := *a
	cp.Results = make(map[string]Outcome, len(a.Results))
	for k, v := range a.Results {
		cp.Results[k] = v
	}
	cp.Reasons = make(map[string]string, len(a.Reasons))
	for k, v := range a.Reasons {
		cp.Reasons[k] = v
	}
	return &cp
}
