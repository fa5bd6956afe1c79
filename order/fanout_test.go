package order

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/freyr/offer/payment"
	"github.com/freyr/offer/saga"
	"github.com/freyr/offer/stock"
)

type fanoutHarness struct {
	fabric     *saga.Fabric
	history    *saga.History
	dlq        *saga.MemoryDeadLetterQueue
	payments   *payment.StubGateway
	stocks     *stock.StubGateway
	aggregates *saga.MemoryAggregateStore
	projection *MemoryStatusProjection
}

func newFanoutHarness(t *testing.T) *fanoutHarness {
	t.Helper()
	h := &fanoutHarness{
		fabric:     saga.NewFabric(nil),
		history:    saga.NewHistory(),
		dlq:        saga.NewMemoryDeadLetterQueue(),
		payments:   payment.NewStubGateway(),
		stocks:     stock.NewStubGateway(),
		aggregates: saga.NewMemoryAggregateStore(),
		projection: NewMemoryStatusProjection(),
	}
	h.fabric.WithMiddleware(h.history.Middleware())
	h.fabric.WithDeadLetterQueue(h.dlq)
	WireFanout(h.fabric, Wiring{
		PaymentGateway: h.payments,
		StockGateway:   h.stocks,
		PaymentRecords: saga.NewMemoryStateStore[payment.Record](),
		StockRecords:   saga.NewMemoryStateStore[stock.Record](),
		Aggregates:     h.aggregates,
		Projection:     h.projection,
	})
	return h
}

func (h *fanoutHarness) place(t *testing.T, orderID uuid.UUID) {
	t.Helper()
	cmd := NewPlaceOrder(orderID, uuid.New(), uuid.New(), 1, 1000, "EUR")
	require.NoError(t, h.fabric.Publish(context.Background(), cmd))
}

func (h *fanoutHarness) eventsOfType(correlationID uuid.UUID, msgType string) []saga.Message {
	var out []saga.Message
	for _, m := range h.history.ForCorrelation(correlationID) {
		if m.MessageType() == msgType {
			out = append(out, m)
		}
	}
	return out
}

func TestFanoutBothSucceedConfirms(t *testing.T) {
	h := newFanoutHarness(t)
	orderID := uuid.New()
	h.place(t, orderID)

	require.Len(t, h.eventsOfType(orderID, TypeOrderConfirmed), 1)
	require.Empty(t, h.eventsOfType(orderID, TypeOrderRejected))

	agg, found, err := h.aggregates.Get(context.Background(), orderID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, agg.Decided)
	require.True(t, agg.AllSucceeded())

	status, _, err := h.projection.Get(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, status.State)
}

func TestFanoutBothFailRejectsWithoutCompensation(t *testing.T) {
	h := newFanoutHarness(t)
	orderID := uuid.New()
	h.payments.Decline[orderID] = true
	h.stocks.Unavailable[orderID] = true
	h.place(t, orderID)

	rejections := h.eventsOfType(orderID, TypeOrderRejected)
	require.Len(t, rejections, 1, "exactly one terminal decision")

	// Both participants failed, so neither holds a state record and the
	// rejection broadcast triggers no compensation events.
	require.Empty(t, h.eventsOfType(orderID, payment.TypePaymentRefunded))
	require.Empty(t, h.eventsOfType(orderID, stock.TypeStockReleased))
	require.Empty(t, h.payments.Refunded())
	require.Empty(t, h.stocks.Released())

	rejected := rejections[0].(OrderRejected)
	require.Contains(t, rejected.Reason, "payment failed")
	require.Contains(t, rejected.Reason, "stock unavailable")
}

func TestFanoutPartialFailureCompensatesOnlyTheSucceededParticipant(t *testing.T) {
	h := newFanoutHarness(t)
	orderID := uuid.New()
	h.stocks.Unavailable[orderID] = true
	h.place(t, orderID)

	require.Len(t, h.eventsOfType(orderID, TypeOrderRejected), 1)

	// Payment succeeded before the rejection, so it compensates; stock
	// never completed work and stays silent.
	refunds := h.eventsOfType(orderID, payment.TypePaymentRefunded)
	require.Len(t, refunds, 1, "the succeeding participant emits exactly one compensation result")
	require.Empty(t, h.eventsOfType(orderID, stock.TypeStockReleased))

	taken := h.eventsOfType(orderID, payment.TypePaymentTaken)
	require.Len(t, taken, 1)
	require.Equal(t,
		taken[0].(payment.PaymentTaken).PaymentID,
		refunds[0].(payment.PaymentRefunded).PaymentID,
		"the refund must reverse exactly the recorded charge")
}

func TestFanoutDecisionWaitsForAllParticipants(t *testing.T) {
	h := newFanoutHarness(t)
	orderID := uuid.New()
	h.payments.Decline[orderID] = true
	h.place(t, orderID)

	// The payment failure arrives first, yet the rejection is published
	// only after stock reported: the rejection must come after the stock
	// result in the recorded stream.
	var sawStockResult bool
	for _, m := range h.history.ForCorrelation(orderID) {
		switch m.MessageType() {
		case stock.TypeStockReserved, stock.TypeStockUnavailable:
			sawStockResult = true
		case TypeOrderRejected:
			require.True(t, sawStockResult, "must not reject before every participant reported")
		}
	}
}

func TestFanoutDuplicateResultIsDeadLettered(t *testing.T) {
	h := newFanoutHarness(t)
	orderID := uuid.New()
	h.place(t, orderID)

	origins := h.eventsOfType(orderID, TypeOrderPlaced)
	require.Len(t, origins, 1)

	// A stale redelivery of a participant result after the decision is a
	// protocol violation: surfaced as an error and dead-lettered, never
	// silently accepted.
	stale := payment.PaymentTaken{Identity: saga.Follow(origins[0]), PaymentID: uuid.New()}
	err := h.fabric.Publish(context.Background(), stale)
	require.ErrorIs(t, err, saga.ErrAlreadyDecided)

	entries := h.dlq.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, stale.MessageID(), entries[0].Message.MessageID())

	require.Len(t, h.eventsOfType(orderID, TypeOrderConfirmed), 1,
		"the stale result must not re-trigger a decision")
}

func TestFanoutDuplicateRejectionDoesNotDoubleCompensate(t *testing.T) {
	h := newFanoutHarness(t)
	orderID := uuid.New()
	h.stocks.Unavailable[orderID] = true
	h.place(t, orderID)

	rejections := h.eventsOfType(orderID, TypeOrderRejected)
	require.Len(t, rejections, 1)

	// Redeliver the rejection, as an at-least-once transport may.
	require.NoError(t, h.fabric.Publish(context.Background(), rejections[0]))

	require.Len(t, h.payments.Refunded(), 1, "a duplicate rejection must not double-refund")
	require.Len(t, h.eventsOfType(orderID, payment.TypePaymentRefunded), 1)
}

func TestFanoutResultForUnknownCorrelationIsAnError(t *testing.T) {
	h := newFanoutHarness(t)

	// A result without an opened aggregate points at a wiring mistake.
	orphan := payment.PaymentTaken{Identity: saga.NewOrigin(uuid.New()), PaymentID: uuid.New()}
	err := h.fabric.Publish(context.Background(), orphan)
	require.True(t, errors.Is(err, saga.ErrAggregateNotFound))
}
