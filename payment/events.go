// Package payment is the payment bounded context: it charges an order when
// asked, records the charge so it can be reversed, and refunds it when a
// downstream failure or a saga rejection reaches it.
package payment

import (
	"github.com/google/uuid"

	"github.com/freyr/offer/saga"
)

// Participant is this context's name in outcome aggregates.
const Participant = "payment"

// Message types routed by the dispatch fabric.
const (
	TypePaymentTaken    = "payment.taken"
	TypePaymentFailed   = "payment.failed"
	TypePaymentRefunded = "payment.refunded"
)

// ReasonPaymentFailed is the broadcast reason for a declined charge.
const ReasonPaymentFailed = "payment failed"

// PaymentTaken reports a successful charge. PaymentID is this context's own
// resource identifier; no other context stores it.
type PaymentTaken struct {
	saga.Identity
	PaymentID uuid.UUID `json:"payment_id"`
}

func (PaymentTaken) MessageType() string { return TypePaymentTaken }
func (PaymentTaken) Participant() string { return Participant }
func (PaymentTaken) Succeeded() bool { return true }
func (PaymentTaken) FailureReason() string { return "" }

// PaymentFailed reports a declined charge. It carries only the envelope and
// a reason so any context can react without reading payment payload.
type PaymentFailed struct {
	saga.Identity
	Reason string `json:"reason"`
}

func (PaymentFailed) MessageType() string { return TypePaymentFailed }
func (PaymentFailed) Participant() string { return Participant }
func (PaymentFailed) Succeeded() bool { return false }
func (e PaymentFailed) FailureReason() string { return e.Reason }

// PaymentRefunded is the compensation result: the charge identified by
// PaymentID was reversed because of Reason.
type PaymentRefunded struct {
	saga.Identity
	PaymentID uuid.UUID `json:"payment_id"`
	Reason    string    `json:"reason"`
}

func (PaymentRefunded) MessageType() string { return TypePaymentRefunded }
func (e PaymentRefunded) FailureReason() string { return e.Reason }
func (PaymentRefunded) CompensationNote() string { return "payment refunded" }

// ChargeRequest is what the charge handler needs from its trigger: the
// envelope plus the amount due. The order context's origin event satisfies
// it structurally; payment never imports that package.
type ChargeRequest interface {
	saga.Message
	AmountDue() (cents int64, currency string)
}

// RegisterCodec installs this context's wire decoders.
func RegisterCodec(c *saga.Codec) {
	c.Register(TypePaymentTaken, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[PaymentTaken](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
	c.Register(TypePaymentFailed, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[PaymentFailed](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
	c.Register(TypePaymentRefunded, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[PaymentRefunded](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
}
