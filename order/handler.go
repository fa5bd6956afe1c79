package order

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/freyr/offer/saga"
)

// PlaceHandler is the saga's originating handler: it consumes the external
// PlaceOrder command and emits the origin event. The origin's correlation ID
// is the order's own identifier and its causation ID stays uuid.Nil, so the
// causal chain of the whole execution terminates here.
type PlaceHandler struct {
	pub    saga.Publisher
	logger *slog.Logger
}

// NewPlaceHandler wires the handler. A nil logger falls back to slog.Default.
func NewPlaceHandler(pub saga.Publisher, logger *slog.Logger) *PlaceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaceHandler{pub: pub, logger: logger}
}

func (h *PlaceHandler) Handle(ctx context.Context, msg saga.Message) error {
	cmd, ok := msg.(PlaceOrder)
	if !ok {
		return fmt.Errorf("%w: %T is not a place-order command", saga.ErrUnexpectedMessage, msg)
	}
	h.logger.Info("order placed", "order_id", cmd.OrderID, "amount_cents", cmd.AmountCents)
	return h.pub.Publish(ctx, OrderPlaced{
		Identity:    saga.NewOrigin(cmd.OrderID),
		OrderID:     cmd.OrderID,
		CustomerID:  cmd.CustomerID,
		ProductID:   cmd.ProductID,
		Quantity:    cmd.Quantity,
		AmountCents: cmd.AmountCents,
		Currency:    cmd.Currency,
	})
}

// ConfirmHandler closes the sequential chain on its success path: the last
// participant's success event becomes OrderConfirmed.
type ConfirmHandler struct {
	pub saga.Publisher
}

// NewConfirmHandler wires the handler.
func NewConfirmHandler(pub saga.Publisher) *ConfirmHandler {
	return &ConfirmHandler{pub: pub}
}

func (h *ConfirmHandler) Handle(ctx context.Context, msg saga.Message) error {
	return h.pub.Publish(ctx, OrderConfirmed{
		Identity: saga.Follow(msg),
		OrderID:  msg.CorrelationID(),
	})
}

// RejectHandler closes the chain on a failure that needed no compensation:
// the rejection carries the failing participant's reason verbatim.
type RejectHandler struct {
	pub saga.Publisher
}

// NewRejectHandler wires the handler.
func NewRejectHandler(pub saga.Publisher) *RejectHandler {
	return &RejectHandler{pub: pub}
}

func (h *RejectHandler) Handle(ctx context.Context, msg saga.Message) error {
	failure, ok := msg.(saga.Failure)
	if !ok {
		return fmt.Errorf("%w: %T is not a failure broadcast", saga.ErrUnexpectedMessage, msg)
	}
	return h.pub.Publish(ctx, OrderRejected{
		Identity: saga.Follow(msg),
		OrderID:  msg.CorrelationID(),
		Reason:   failure.FailureReason(),
	})
}

// RejectCompensatedHandler closes the chain after a compensation ran: the
// rejection composes the original failure reason with the compensation note
// ("stock unavailable, payment refunded") so the end user sees both what
// went wrong and what was undone.
type RejectCompensatedHandler struct {
	pub saga.Publisher
}

// NewRejectCompensatedHandler wires the handler.
func NewRejectCompensatedHandler(pub saga.Publisher) *RejectCompensatedHandler {
	return &RejectCompensatedHandler{pub: pub}
}

func (h *RejectCompensatedHandler) Handle(ctx context.Context, msg saga.Message) error {
	comp, ok := msg.(saga.CompensationResult)
	if !ok {
		return fmt.Errorf("%w: %T is not a compensation result", saga.ErrUnexpectedMessage, msg)
	}
	return h.pub.Publish(ctx, OrderRejected{
		Identity: saga.Follow(msg),
		OrderID:  msg.CorrelationID(),
		Reason:   comp.FailureReason() + ", " + comp.CompensationNote(),
	})
}
