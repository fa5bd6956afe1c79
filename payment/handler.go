package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/freyr/offer/saga"
)

// Gateway abstracts the payment provider. The binary outcome of Charge is
// the seam where tests inject deterministic behavior.
type Gateway interface {
	// Charge takes the payment for an order and returns the provider's
	// payment identifier. A declined charge is returned as an error.
	Charge(ctx context.Context, orderID uuid.UUID, amountCents int64, currency string) (uuid.UUID, error)
	// Refund reverses a previously taken payment.
	Refund(ctx context.Context, paymentID uuid.UUID) error
}

// Record is the one fact this context keeps per saga: which charge to
// reverse if the process is rejected later.
type Record struct {
	PaymentID uuid.UUID `json:"payment_id"`
}

// ChargeHandler reacts to the event that asks payment to act. On success it
// records the charge and reports PaymentTaken; on a declined charge it
// reports PaymentFailed and records nothing, so a later rejection finds
// nothing to compensate here.
type ChargeHandler struct {
	gateway Gateway
	records saga.StateStore[Record]
	pub     saga.Publisher
	steps   saga.StepRecorder
	logger  *slog.Logger
}

// NewChargeHandler wires the handler. Nil steps and logger fall back to
// no-op and slog.Default.
func NewChargeHandler(gateway Gateway, records saga.StateStore[Record], pub saga.Publisher, steps saga.StepRecorder, logger *slog.Logger) *ChargeHandler {
	if steps == nil {
		steps = saga.NopStepRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChargeHandler{gateway: gateway, records: records, pub: pub, steps: steps, logger: logger}
}

func (h *ChargeHandler) Handle(ctx context.Context, msg saga.Message) error {
	req, ok := msg.(ChargeRequest)
	if !ok {
		return fmt.Errorf("%w: %T does not carry an amount due", saga.ErrUnexpectedMessage, msg)
	}

	cents, currency := req.AmountDue()
	paymentID, err := h.gateway.Charge(ctx, msg.CorrelationID(), cents, currency)
	if err != nil {
		// A declined charge is an expected business failure. It
		// propagates as an event, never as an error.
		h.logger.Info("charge declined", "correlation_id", msg.CorrelationID(), "cause", err)
		h.steps.RecordStep(ctx, Participant, "charge", saga.StepFailed, msg.CorrelationID())
		return h.pub.Publish(ctx, PaymentFailed{
			Identity: saga.Follow(msg),
			Reason:   ReasonPaymentFailed,
		})
	}

	if err := h.records.Store(ctx, msg.CorrelationID(), Record{PaymentID: paymentID}); err != nil {
		return fmt.Errorf("store payment record: %w", err)
	}
	h.steps.RecordStep(ctx, Participant, "charge", saga.StepSucceeded, msg.CorrelationID())
	return h.pub.Publish(ctx, PaymentTaken{
		Identity:  saga.Follow(msg),
		PaymentID: paymentID,
	})
}

// RefundHandler is the compensation handler. It reacts to a broadcast
// failure or rejection, looks up its own record, and reverses the charge
// when one exists. An absent record means this context never completed work
// for the process: a no-op, not an error. The record is cleared before the
// result is published, which is what keeps a duplicate rejection from
// double-refunding.
type RefundHandler struct {
	gateway Gateway
	records saga.StateStore[Record]
	pub     saga.Publisher
	steps   saga.StepRecorder
	logger  *slog.Logger
}

// NewRefundHandler wires the compensation handler.
func NewRefundHandler(gateway Gateway, records saga.StateStore[Record], pub saga.Publisher, steps saga.StepRecorder, logger *slog.Logger) *RefundHandler {
	if steps == nil {
		steps = saga.NopStepRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundHandler{gateway: gateway, records: records, pub: pub, steps: steps, logger: logger}
}

func (h *RefundHandler) Handle(ctx context.Context, msg saga.Message) error {
	failure, ok := msg.(saga.Failure)
	if !ok {
		return fmt.Errorf("%w: %T is not a failure broadcast", saga.ErrUnexpectedMessage, msg)
	}

	rec, found, err := h.records.Find(ctx, msg.CorrelationID())
	if err != nil {
		return fmt.Errorf("find payment record: %w", err)
	}
	if !found {
		h.logger.Debug("nothing to refund", "correlation_id", msg.CorrelationID())
		return nil
	}

	if err := h.gateway.Refund(ctx, rec.PaymentID); err != nil {
		// A failed refund must never be swallowed: it is returned so
		// the fabric dead-letters the triggering message for manual
		// intervention.
		return fmt.Errorf("refund payment %s: %w", rec.PaymentID, err)
	}
	if err := h.records.Clear(ctx, msg.CorrelationID()); err != nil {
		return fmt.Errorf("clear payment record: %w", err)
	}

	h.steps.RecordStep(ctx, Participant, "refund", saga.StepCompensated, msg.CorrelationID())
	return h.pub.Publish(ctx, PaymentRefunded{
		Identity:  saga.Follow(msg),
		PaymentID: rec.PaymentID,
		Reason:    failure.FailureReason(),
	})
}

// ErrDeclined is returned by gateways for an expected charge decline.
var ErrDeclined = errors.New("payment: charge declined")

// StubGateway is a deterministic Gateway for tests and single-process
// wiring: charges succeed unless the order is listed in Decline, refunds
// succeed unless the payment is listed in FailRefund.
type StubGateway struct {
	mu         sync.Mutex
	Decline    map[uuid.UUID]bool
	FailRefund map[uuid.UUID]bool
	charged    map[uuid.UUID]uuid.UUID
	refunded   []uuid.UUID
}

// NewStubGateway creates a gateway that approves everything.
func NewStubGateway() *StubGateway {
	return &StubGateway{
		Decline:    make(map[uuid.UUID]bool),
		FailRefund: make(map[uuid.UUID]bool),
		charged:    make(map[uuid.UUID]uuid.UUID),
	}
}

func (g *StubGateway) Charge(ctx context.Context, orderID uuid.UUID, amountCents int64, currency string) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Decline[orderID] {
		return uuid.Nil, fmt.Errorf("%w: order %s", ErrDeclined, orderID)
	}
	paymentID := uuid.New()
	g.charged[orderID] = paymentID
	return paymentID, nil
}

func (g *StubGateway) Refund(ctx context.Context, paymentID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailRefund[paymentID] {
		return fmt.Errorf("payment: refund rejected for %s", paymentID)
	}
	g.refunded = append(g.refunded, paymentID)
	return nil
}

// Refunded returns the payments refunded so far, in order.
func (g *StubGateway) Refunded() []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uuid.UUID, len(g.refunded))
	copy(out, g.refunded)
	return out
}
