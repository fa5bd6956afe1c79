package order

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/freyr/offer/payment"
	"github.com/freyr/offer/saga"
	"github.com/freyr/offer/stock"
)

type chainHarness struct {
	fabric     *saga.Fabric
	history    *saga.History
	payments   *payment.StubGateway
	stocks     *stock.StubGateway
	projection *MemoryStatusProjection
}

func newChainHarness(t *testing.T) *chainHarness {
	t.Helper()
	h := &chainHarness{
		fabric:     saga.NewFabric(nil),
		history:    saga.NewHistory(),
		payments:   payment.NewStubGateway(),
		stocks:     stock.NewStubGateway(),
		projection: NewMemoryStatusProjection(),
	}
	h.fabric.WithMiddleware(h.history.Middleware())
	WireChain(h.fabric, Wiring{
		PaymentGateway: h.payments,
		StockGateway:   h.stocks,
		PaymentRecords: saga.NewMemoryStateStore[payment.Record](),
		StockRecords:   saga.NewMemoryStateStore[stock.Record](),
		Projection:     h.projection,
	})
	return h
}

func (h *chainHarness) place(t *testing.T) PlaceOrder {
	t.Helper()
	cmd := NewPlaceOrder(uuid.New(), uuid.New(), uuid.New(), 2, 4990, "EUR")
	require.NoError(t, h.fabric.Publish(context.Background(), cmd))
	return cmd
}

// events returns the saga events of one execution, in publish order, with
// the external command filtered out.
func (h *chainHarness) events(correlationID uuid.UUID) []saga.Message {
	var out []saga.Message
	for _, m := range h.history.ForCorrelation(correlationID) {
		if m.MessageType() == TypePlaceOrder {
			continue
		}
		out = append(out, m)
	}
	return out
}

func messageTypes(msgs []saga.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageType()
	}
	return out
}

// assertCausalChain checks the three structural invariants of one linear
// execution: a single nil-causation origin, each event chaining to its
// predecessor, and globally unique message IDs.
func assertCausalChain(t *testing.T, events []saga.Message) {
	t.Helper()
	require.NotEmpty(t, events)
	require.Equal(t, uuid.Nil, events[0].CausationID(), "the origin event must have nil causation")

	seen := map[uuid.UUID]bool{events[0].MessageID(): true}
	for i := 1; i < len(events); i++ {
		require.Equal(t, events[i-1].MessageID(), events[i].CausationID(),
			"event %s must chain to its predecessor", events[i].MessageType())
		require.False(t, seen[events[i].MessageID()], "message IDs must be unique")
		seen[events[i].MessageID()] = true
	}
	for _, e := range events {
		require.Equal(t, events[0].CorrelationID(), e.CorrelationID(),
			"correlation must be stable across the execution")
	}
}

func TestChainHappyPath(t *testing.T) {
	h := newChainHarness(t)
	cmd := h.place(t)

	events := h.events(cmd.OrderID)
	require.Equal(t,
		[]string{TypeOrderPlaced, payment.TypePaymentTaken, stock.TypeStockReserved, TypeOrderConfirmed},
		messageTypes(events))
	assertCausalChain(t, events)

	status, found, err := h.projection.Get(context.Background(), cmd.OrderID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StateConfirmed, status.State)
}

func TestChainEarlyFailureNeedsNoCompensation(t *testing.T) {
	h := newChainHarness(t)
	orderID := uuid.New()
	h.payments.Decline[orderID] = true

	cmd := NewPlaceOrder(orderID, uuid.New(), uuid.New(), 1, 1000, "EUR")
	require.NoError(t, h.fabric.Publish(context.Background(), cmd))

	events := h.events(orderID)
	require.Equal(t,
		[]string{TypeOrderPlaced, payment.TypePaymentFailed, TypeOrderRejected},
		messageTypes(events))
	assertCausalChain(t, events)

	rejected := events[len(events)-1].(OrderRejected)
	require.Equal(t, "payment failed", rejected.Reason)
	require.Empty(t, h.payments.Refunded(), "nothing succeeded, nothing to compensate")

	status, _, err := h.projection.Get(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, StateRejected, status.State)
	require.Equal(t, "payment failed", status.Reason)
}

func TestChainLateFailureCompensatesThePayment(t *testing.T) {
	h := newChainHarness(t)
	orderID := uuid.New()
	h.stocks.Unavailable[orderID] = true

	cmd := NewPlaceOrder(orderID, uuid.New(), uuid.New(), 1, 1000, "EUR")
	require.NoError(t, h.fabric.Publish(context.Background(), cmd))

	events := h.events(orderID)
	require.Equal(t,
		[]string{TypeOrderPlaced, payment.TypePaymentTaken, stock.TypeStockUnavailable, payment.TypePaymentRefunded, TypeOrderRejected},
		messageTypes(events))
	assertCausalChain(t, events)

	taken := events[1].(payment.PaymentTaken)
	refunded := events[3].(payment.PaymentRefunded)
	require.Equal(t, taken.PaymentID, refunded.PaymentID,
		"the compensation must reverse exactly the recorded charge")

	rejected := events[4].(OrderRejected)
	require.Equal(t, "stock unavailable, payment refunded", rejected.Reason)
}

func TestChainFailureEventsCarryNoUpstreamPayload(t *testing.T) {
	h := newChainHarness(t)
	orderID := uuid.New()
	h.stocks.Unavailable[orderID] = true

	cmd := NewPlaceOrder(orderID, uuid.New(), uuid.New(), 1, 1000, "EUR")
	require.NoError(t, h.fabric.Publish(context.Background(), cmd))

	for _, m := range h.events(orderID) {
		if m.MessageType() != stock.TypeStockUnavailable {
			continue
		}
		// Structural inspection of the wire payload: a stock failure
		// must expose nothing but its own reason.
		data, err := json.Marshal(m)
		require.NoError(t, err)
		var fields map[string]any
		require.NoError(t, json.Unmarshal(data, &fields))
		require.Equal(t, map[string]any{"reason": "stock unavailable"}, fields)
	}
}

func TestChainExecutionsDoNotInterfere(t *testing.T) {
	h := newChainHarness(t)
	failing := uuid.New()
	h.payments.Decline[failing] = true

	ok := h.place(t)
	cmdFail := NewPlaceOrder(failing, uuid.New(), uuid.New(), 1, 1000, "EUR")
	require.NoError(t, h.fabric.Publish(context.Background(), cmdFail))

	require.Len(t, h.events(ok.OrderID), 4)
	require.Len(t, h.events(failing), 3)

	status, _, err := h.projection.Get(context.Background(), ok.OrderID)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, status.State)
}
