// Package store provides durable implementations of the saga persistence
// interfaces.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freyr/offer/saga"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS participant_state (
	context        TEXT NOT NULL,
	correlation_id UUID NOT NULL,
	fact           JSONB NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (context, correlation_id)
);

CREATE TABLE IF NOT EXISTS outcome_aggregates (
	correlation_id UUID PRIMARY KEY,
	data           JSONB NOT NULL,
	decided        BOOLEAN NOT NULL DEFAULT false,
	version        BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the persistence tables when they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure saga schema: %w", err)
	}
	return nil
}

// PostgresStateStore is a saga.StateStore backed by a JSONB upsert. Each
// bounded context gets its own logical namespace via the context column.
type PostgresStateStore[T any] struct {
	pool    *pgxpool.Pool
	context string
}

// NewPostgresStateStore creates the store for one bounded context.
func NewPostgresStateStore[T any](pool *pgxpool.Pool, contextName string) *PostgresStateStore[T] {
	return &PostgresStateStore[T]{pool: pool, context: contextName}
}

func (s *PostgresStateStore[T]) Store(ctx context.Context, correlationID uuid.UUID, fact T) error {
	data, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("marshal state fact: %w", err)
	}
	query := `
		INSERT INTO participant_state (context, correlation_id, fact, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (context, correlation_id) DO UPDATE SET
			fact = $3,
			updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, s.context, correlationID, data); err != nil {
		return fmt.Errorf("store state for %s: %w", correlationID, err)
	}
	return nil
}

func (s *PostgresStateStore[T]) Find(ctx context.Context, correlationID uuid.UUID) (T, bool, error) {
	var fact T
	var data []byte
	query := `SELECT fact FROM participant_state WHERE context = $1 AND correlation_id = $2`
	err := s.pool.QueryRow(ctx, query, s.context, correlationID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fact, false, nil
	}
	if err != nil {
		return fact, false, fmt.Errorf("find state for %s: %w", correlationID, err)
	}
	if err := json.Unmarshal(data, &fact); err != nil {
		return fact, false, fmt.Errorf("unmarshal state fact: %w", err)
	}
	return fact, true, nil
}

func (s *PostgresStateStore[T]) Clear(ctx context.Context, correlationID uuid.UUID) error {
	query := `DELETE FROM participant_state WHERE context = $1 AND correlation_id = $2`
	if _, err := s.pool.Exec(ctx, query, s.context, correlationID); err != nil {
		return fmt.Errorf("clear state for %s: %w", correlationID, err)
	}
	return nil
}

// PostgresAggregateStore is a saga.AggregateStore with optimistic locking:
// Mutate retries when another worker won the version race, which is what
// serializes two result events for the same saga processed concurrently.
type PostgresAggregateStore struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewPostgresAggregateStore creates the store.
func NewPostgresAggregateStore(pool *pgxpool.Pool) *PostgresAggregateStore {
	return &PostgresAggregateStore{pool: pool, maxRetries: 5}
}

func (s *PostgresAggregateStore) Open(ctx context.Context, agg *saga.Aggregate) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal aggregate: %w", err)
	}
	query := `
		INSERT INTO outcome_aggregates (correlation_id, data, decided, version, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, agg.CorrelationID, data, agg.Decided, agg.Version, agg.CreatedAt); err != nil {
		return fmt.Errorf("open aggregate %s: %w", agg.CorrelationID, err)
	}
	return nil
}

func (s *PostgresAggregateStore) Get(ctx context.Context, correlationID uuid.UUID) (*saga.Aggregate, bool, error) {
	var data []byte
	query := `SELECT data FROM outcome_aggregates WHERE correlation_id = $1`
	err := s.pool.QueryRow(ctx, query, correlationID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get aggregate %s: %w", correlationID, err)
	}
	var agg saga.Aggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, false, fmt.Errorf("unmarshal aggregate: %w", err)
	}
	return &agg, true, nil
}

func (s *PostgresAggregateStore) Mutate(ctx context.Context, correlationID uuid.UUID, fn func(*saga.Aggregate) error) (*saga.Aggregate, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		agg, found, err := s.Get(ctx, correlationID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", saga.ErrAggregateNotFound, correlationID)
		}

		expectedVersion := agg.Version
		if err := fn(agg); err != nil {
			return nil, err
		}
		agg.Version++

		data, err := json.Marshal(agg)
		if err != nil {
			return nil, fmt.Errorf("marshal aggregate: %w", err)
		}
		query := `
			UPDATE outcome_aggregates
			SET data = $2, decided = $3, version = $4
			WHERE correlation_id = $1 AND version = $5
		`
		tag, err := s.pool.Exec(ctx, query, correlationID, data, agg.Decided, agg.Version, expectedVersion)
		if err != nil {
			return nil, fmt.Errorf("update aggregate %s: %w", correlationID, err)
		}
		if tag.RowsAffected() == 1 {
			return agg, nil
		}
		// Version moved under us: reload and retry.
	}
	return nil, fmt.Errorf("mutate aggregate %s: version conflict persisted after %d attempts", correlationID, s.maxRetries)
}

func (s *PostgresAggregateStore) ListStalePending(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	query := `
		SELECT correlation_id FROM outcome_aggregates
		WHERE decided = false AND created_at < $1
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("list stale aggregates: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale aggregate: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
