package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/freyr/offer/order"
)

// RedisStateStore is a saga.StateStore keeping each context's facts under
// "<prefix>:state:<context>:<correlationID>". TTL bounds the records'
// lifetime to the saga's business lifetime; zero disables expiry.
type RedisStateStore[T any] struct {
	client  *redis.Client
	prefix  string
	context string
	ttl     time.Duration
}

// NewRedisStateStore creates the store for one bounded context.
func NewRedisStateStore[T any](client *redis.Client, prefix, contextName string, ttl time.Duration) *RedisStateStore[T] {
	return &RedisStateStore[T]{client: client, prefix: prefix, context: contextName, ttl: ttl}
}

func (s *RedisStateStore[T]) key(correlationID uuid.UUID) string {
	return fmt.Sprintf("%s:state:%s:%s", s.prefix, s.context, correlationID)
}

func (s *RedisStateStore[T]) Store(ctx context.Context, correlationID uuid.UUID, fact T) error {
	data, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("marshal state fact: %w", err)
	}
	if err := s.client.Set(ctx, s.key(correlationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store state for %s: %w", correlationID, err)
	}
	return nil
}

func (s *RedisStateStore[T]) Find(ctx context.Context, correlationID uuid.UUID) (T, bool, error) {
	var fact T
	data, err := s.client.Get(ctx, s.key(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
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

func (s *RedisStateStore[T]) Clear(ctx context.Context, correlationID uuid.UUID) error {
	if err := s.client.Del(ctx, s.key(correlationID)).Err(); err != nil {
		return fmt.Errorf("clear state for %s: %w", correlationID, err)
	}
	return nil
}

// RedisStatusProjection is the order-status read model on Redis, keyed by
// "<prefix>:status:<orderID>".
type RedisStatusProjection struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatusProjection creates the projection.
func NewRedisStatusProjection(client *redis.Client, prefix string, ttl time.Duration) *RedisStatusProjection {
	return &RedisStatusProjection{client: client, prefix: prefix, ttl: ttl}
}

func (p *RedisStatusProjection) key(orderID uuid.UUID) string {
	return fmt.Sprintf("%s:status:%s", p.prefix, orderID)
}

func (p *RedisStatusProjection) Set(ctx context.Context, status order.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal order status: %w", err)
	}
	if err := p.client.Set(ctx, p.key(status.OrderID), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("project status for %s: %w", status.OrderID, err)
	}
	return nil
}

func (p *RedisStatusProjection) Get(ctx context.Context, orderID uuid.UUID) (order.Status, bool, error) {
	var status order.Status
	data, err := p.client.Get(ctx, p.key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return status, false, nil
	}
	if err != nil {
		return status, false, fmt.Errorf("get status for %s: %w", orderID, err)
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, false, fmt.Errorf("unmarshal order status: %w", err)
	}
	return status, true, nil
}
