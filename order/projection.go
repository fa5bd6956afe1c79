package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freyr/offer/saga"
)

// State is the end-user-visible state of an order.
type State string

const (
	StateAccepted  State = "accepted"
	StateConfirmed State = "confirmed"
	StateRejected  State = "rejected"
)

// Status is the read model kept per order. It is determined from the saga's
// terminal event alone.
type Status struct {
	OrderID   uuid.UUID `json:"order_id"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusProjection stores order statuses for the query side. A Redis-backed
// implementation lives in adapters/store.
type StatusProjection interface {
	Set(ctx context.Context, status Status) error
	Get(ctx context.Context, orderID uuid.UUID) (Status, bool, error)
}

// MemoryStatusProjection is the in-process StatusProjection.
type MemoryStatusProjection struct {
	mu       sync.RWMutex
	statuses map[uuid.UUID]Status
}

// NewMemoryStatusProjection creates an empty projection.
func NewMemoryStatusProjection() *MemoryStatusProjection {
	return &MemoryStatusProjection{statuses: make(map[uuid.UUID]Status)}
}

func (p *MemoryStatusProjection) Set(ctx context.Context, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[status.OrderID] = status
	return nil
}

func (p *MemoryStatusProjection) Get(ctx context.Context, orderID uuid.UUID) (Status, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.statuses[orderID]
	return s, ok, nil
}

// StatusHandler is the terminal event sink: it projects OrderConfirmed and
// OrderRejected into the status read model.
type StatusHandler struct {
	projection StatusProjection
}

// NewStatusHandler wires the sink.
func NewStatusHandler(projection StatusProjection) *StatusHandler {
	return &StatusHandler{projection: projection}
}

func (h *StatusHandler) Handle(ctx context.Context, msg saga.Message) error {
	status := Status{OrderID: msg.CorrelationID(), UpdatedAt: time.Now()}
	switch e := msg.(type) {
	case OrderConfirmed:
		status.State = StateConfirmed
	case OrderRejected:
		status.State = StateRejected
		status.Reason = e.Reason
	default:
		return fmt.Errorf("%w: %T is not a terminal order event", saga.ErrUnexpectedMessage, msg)
	}
	if err := h.projection.Set(ctx, status); err != nil {
		return fmt.Errorf("project order status: %w", err)
	}
	return nil
}
