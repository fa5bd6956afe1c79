package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/freyr/offer/saga"
)

// Gateway abstracts the warehouse system. Reservations are keyed by the
// order: the correlation ID is the order ID, which is all this context needs
// to know about the triggering event.
type Gateway interface {
	// Reserve puts stock aside for the order and returns the reservation
	// identifier. Insufficient stock is returned as an error.
	Reserve(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error)
	// Release returns a previously reserved quantity to the shelf.
	Release(ctx context.Context, reservationID uuid.UUID) error
}

// Record is the one fact this context keeps per saga: which reservation to
// release if the process is rejected later.
type Record struct {
	ReservationID uuid.UUID `json:"reservation_id"`
}

// ReserveHandler reacts to the event that asks stock to act. On success it
// records the reservation and reports StockReserved; when stock is short it
// reports StockUnavailable and records nothing.
type ReserveHandler struct {
	gateway Gateway
	records saga.StateStore[Record]
	pub     saga.Publisher
	steps   saga.StepRecorder
	logger  *slog.Logger
}

// NewReserveHandler wires the handler. Nil steps and logger fall back to
// no-op and slog.Default.
func NewReserveHandler(gateway Gateway, records saga.StateStore[Record], pub saga.Publisher, steps saga.StepRecorder, logger *slog.Logger) *ReserveHandler {
	if steps == nil {
		steps = saga.NopStepRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReserveHandler{gateway: gateway, records: records, pub: pub, steps: steps, logger: logger}
}

func (h *ReserveHandler) Handle(ctx context.Context, msg saga.Message) error {
	reservationID, err := h.gateway.Reserve(ctx, msg.CorrelationID())
	if err != nil {
		h.logger.Info("reservation failed", "correlation_id", msg.CorrelationID(), "cause", err)
		h.steps.RecordStep(ctx, Participant, "reserve", saga.StepFailed, msg.CorrelationID())
		return h.pub.Publish(ctx, StockUnavailable{
			Identity: saga.Follow(msg),
			Reason:   ReasonStockUnavailable,
		})
	}

	if err := h.records.Store(ctx, msg.CorrelationID(), Record{ReservationID: reservationID}); err != nil {
		return fmt.Errorf("store reservation record: %w", err)
	}
	h.steps.RecordStep(ctx, Participant, "reserve", saga.StepSucceeded, msg.CorrelationID())
	return h.pub.Publish(ctx, StockReserved{
		Identity:      saga.Follow(msg),
		ReservationID: reservationID,
	})
}

// ReleaseHandler is the compensation handler: on a broadcast failure it
// releases its own reservation when one exists and clears the record, so a
// duplicate rejection finds nothing and does nothing.
type ReleaseHandler struct {
	gateway Gateway
	records saga.StateStore[Record]
	pub     saga.Publisher
	steps   saga.StepRecorder
	logger  *slog.Logger
}

// NewReleaseHandler wires the compensation handler.
func NewReleaseHandler(gateway Gateway, records saga.StateStore[Record], pub saga.Publisher, steps saga.StepRecorder, logger *slog.Logger) *ReleaseHandler {
	if steps == nil {
		steps = saga.NopStepRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseHandler{gateway: gateway, records: records, pub: pub, steps: steps, logger: logger}
}

func (h *ReleaseHandler) Handle(ctx context.Context, msg saga.Message) error {
	failure, ok := msg.(saga.Failure)
	if !ok {
		return fmt.Errorf("%w: %T is not a failure broadcast", saga.ErrUnexpectedMessage, msg)
	}

	rec, found, err := h.records.Find(ctx, msg.CorrelationID())
	if err != nil {
		return fmt.Errorf("find reservation record: %w", err)
	}
	if !found {
		h.logger.Debug("nothing to release", "correlation_id", msg.CorrelationID())
		return nil
	}

	if err := h.gateway.Release(ctx, rec.ReservationID); err != nil {
		return fmt.Errorf("release reservation %s: %w", rec.ReservationID, err)
	}
	if err := h.records.Clear(ctx, msg.CorrelationID()); err != nil {
		return fmt.Errorf("clear reservation record: %w", err)
	}

	h.steps.RecordStep(ctx, Participant, "release", saga.StepCompensated, msg.CorrelationID())
	return h.pub.Publish(ctx, StockReleased{
		Identity:      saga.Follow(msg),
		ReservationID: rec.ReservationID,
		Reason:        failure.FailureReason(),
	})
}

// ErrOutOfStock is returned by gateways when the reservation cannot be made.
var ErrOutOfStock = errors.New("stock: out of stock")

// StubGateway is a deterministic Gateway for tests and single-process
// wiring: reservations succeed unless the order is listed in Unavailable.
type StubGateway struct {
	mu          sync.Mutex
	Unavailable map[uuid.UUID]bool
	reserved    map[uuid.UUID]uuid.UUID
	released    []uuid.UUID
}

// NewStubGateway creates a gateway with everything in stock.
func NewStubGateway() *StubGateway {
	return &StubGateway{
		Unavailable: make(map[uuid.UUID]bool),
		reserved:    make(map[uuid.UUID]uuid.UUID),
	}
}

func (g *StubGateway) Reserve(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unavailable[orderID] {
		return uuid.Nil, fmt.Errorf("%w: order %s", ErrOutOfStock, orderID)
	}
	reservationID := uuid.New()
	g.reserved[orderID] = reservationID
	return reservationID, nil
}

func (g *StubGateway) Release(ctx context.Context, reservationID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, reservationID)
	return nil
}

// Released returns the reservations released so far, in order.
func (g *StubGateway) Released() []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uuid.UUID, len(g.released))
	copy(out, g.released)
	return out
}
