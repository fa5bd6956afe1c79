// Package order is the saga-owning bounded context: it accepts the external
// PlaceOrder command, emits the origin event, decides the terminal outcome,
// and wires the participants into a sequential chain or a parallel fanout.
package order

import (
	"github.com/google/uuid"

	"github.com/freyr/offer/saga"
)

// Message types routed by the dispatch fabric.
const (
	TypePlaceOrder     = "order.place"
	TypeOrderPlaced    = "order.placed"
	TypeOrderConfirmed = "order.confirmed"
	TypeOrderRejected  = "order.rejected"
)

// PlaceOrder is the external command starting the saga. It carries the
// three-ID envelope so it can travel the same fabric as the events, but the
// saga's origin is the OrderPlaced event it causes, not the command itself.
type PlaceOrder struct {
	saga.Identity
	OrderID     uuid.UUID `json:"order_id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Quantity    int       `json:"quantity"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

// NewPlaceOrder builds the command. The order's own identifier becomes the
// saga's correlation ID.
func NewPlaceOrder(orderID, customerID, productID uuid.UUID, quantity int, amountCents int64, currency string) PlaceOrder {
	return PlaceOrder{
		Identity:    saga.NewOrigin(orderID),
		OrderID:     orderID,
		CustomerID:  customerID,
		ProductID:   productID,
		Quantity:    quantity,
		AmountCents: amountCents,
		Currency:    currency,
	}
}

func (PlaceOrder) MessageType() string { return TypePlaceOrder }

// OrderPlaced is the saga's origin event. It is fat: it carries everything a
// participant needs to act, so no participant ever calls back into this
// context. Its causation ID is uuid.Nil; every later event in the execution
// chains back to it.
type OrderPlaced struct {
	saga.Identity
	OrderID     uuid.UUID `json:"order_id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Quantity    int       `json:"quantity"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

func (OrderPlaced) MessageType() string { return TypeOrderPlaced }

// AmountDue exposes the charge amount to the payment context without that
// context importing this package.
func (e OrderPlaced) AmountDue() (int64, string) { return e.AmountCents, e.Currency }

// OrderConfirmed is the saga's positive terminal event.
type OrderConfirmed struct {
	saga.Identity
	OrderID uuid.UUID `json:"order_id"`
}

func (OrderConfirmed) MessageType() string { return TypeOrderConfirmed }

// OrderRejected is the saga's negative terminal event. Under the fanout
// topology it doubles as the broadcast compensation trigger, so it carries
// only the envelope, the order ID and the reason.
type OrderRejected struct {
	saga.Identity
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
}

func (OrderRejected) MessageType() string { return TypeOrderRejected }
func (e OrderRejected) FailureReason() string { return e.Reason }

// RegisterCodec installs this context's wire decoders.
func RegisterCodec(c *saga.Codec) {
	c.Register(TypePlaceOrder, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[PlaceOrder](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
	c.Register(TypeOrderPlaced, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[OrderPlaced](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
	c.Register(TypeOrderConfirmed, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[OrderConfirmed](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
	c.Register(TypeOrderRejected, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[OrderRejected](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
}
