// Package stock is the warehouse bounded context: it reserves stock for an
// order, records the reservation so it can be released, and releases it when
// a failure or rejection reaches it.
package stock

import (
	"github.com/google/uuid"

	"github.com/freyr/offer/saga"
)

// Participant is this context's name in outcome aggregates.
const Participant = "stock"

// Message types routed by the dispatch fabric.
const (
	TypeStockReserved    = "stock.reserved"
	TypeStockUnavailable = "stock.unavailable"
	TypeStockReleased    = "stock.released"
)

// ReasonStockUnavailable is the broadcast reason for a failed reservation.
const ReasonStockUnavailable = "stock unavailable"

// StockReserved reports a successful reservation. ReservationID is this
// context's own resource identifier; no other context stores it.
type StockReserved struct {
	saga.Identity
	ReservationID uuid.UUID `json:"reservation_id"`
}

func (StockReserved) MessageType() string { return TypeStockReserved }
func (StockReserved) Participant() string { return Participant }
func (StockReserved) Succeeded() bool { return true }
func (StockReserved) FailureReason() string { return "" }

// StockUnavailable reports that the reservation could not be made. Envelope
// and reason only, so any context can react without reading stock payload.
type StockUnavailable struct {
	saga.Identity
	Reason string `json:"reason"`
}

func (StockUnavailable) MessageType() string { return TypeStockUnavailable }
func (StockUnavailable) Participant() string { return Participant }
func (StockUnavailable) Succeeded() bool { return false }
func (e StockUnavailable) FailureReason() string { return e.Reason }

// StockReleased is the compensation result: the reservation identified by
// ReservationID was released because of Reason.
type StockReleased struct {
	saga.Identity
	ReservationID uuid.UUID `json:"reservation_id"`
	Reason        string    `json:"reason"`
}

func (StockReleased) MessageType() string { return TypeStockReleased }
func (e StockReleased) FailureReason() string { return e.Reason }
func (StockReleased) CompensationNote() string { return "stock released" }

// RegisterCodec installs this context's wire decoders.
func RegisterCodec(c *saga.Codec) {
	c.Register(TypeStockReserved, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[StockReserved](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
	c.Register(TypeStockUnavailable, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[StockUnavailable](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
	c.Register(TypeStockReleased, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[StockReleased](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
}
