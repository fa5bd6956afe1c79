// Package saga implements choreography-style saga coordination: typed,
// immutable messages carrying correlation and causation metadata, a dispatch
// fabric routing each message to the handlers registered for its type, and
// the per-participant state needed for autonomous compensation.
package saga

import "github.com/google/uuid"

// Message is implemented by every saga event, and by commands that are
// capable of causing downstream events. The three identifiers are assigned
// exactly once at construction and never change afterwards.
type Message interface {
	// MessageID identifies this specific occurrence.
	MessageID() uuid.UUID
	// CorrelationID identifies the overarching business process. It is
	// identical across every message belonging to one saga execution.
	CorrelationID() uuid.UUID
	// CausationID is the MessageID of the message that directly triggered
	// this one. It is uuid.Nil only for the origin event of a saga.
	CausationID() uuid.UUID
	// MessageType returns the routing key used by the dispatch fabric.
	MessageType() string
}

// Failure is a broadcast failure or rejection message. It carries nothing
// beyond the envelope and a reason, so compensation handlers in other
// contexts can react to it without reading upstream payload.
type Failure interface {
	Message
	FailureReason() string
}

// CompensationResult is emitted by a compensation handler after it reversed
// its local work. The note names the reversal ("payment refunded") so a
// terminal rejection can compose a complete reason for the end user.
type CompensationResult interface {
	Failure
	CompensationNote() string
}

// Result is a participant's answer under the fanout topology, consumed by
// the outcome aggregator.
type Result interface {
	Message
	// Participant names the bounded context that produced the result.
	Participant() string
	Succeeded() bool
	// FailureReason is empty when Succeeded is true.
	FailureReason() string
}

// Identity carries the three-ID envelope. Concrete events and commands embed
// it by value; the fields are unexported so they cannot be reassigned after
// construction.
type Identity struct {
	id          uuid.UUID
	correlation uuid.UUID
	causation   uuid.UUID
}

// NewOrigin creates the identity of a saga's origin event. The correlation ID
// comes from the triggering entity itself (e.g. the order ID) and the
// causation ID stays uuid.Nil.
func NewOrigin(correlation uuid.UUID) Identity {
	return Identity{id: uuid.New(), correlation: correlation}
}

// Follow creates the identity of a message produced in reaction to cause:
// the correlation ID is copied unchanged and the causation ID is set to the
// cause's MessageID.
func Follow(cause Message) Identity {
	return Identity{
		id:          uuid.New(),
		correlation: cause.CorrelationID(),
		causation:   cause.MessageID(),
	}
}

// RestoreIdentity rebuilds an identity from transported values. Transport
// ingresses use it to reconstruct the envelope from the payload, which is
// where the invariants live; broker metadata alone is not authoritative.
func RestoreIdentity(messageID, correlationID, causationID uuid.UUID) Identity {
	return Identity{id: messageID, correlation: correlationID, causation: causationID}
}

func (i Identity) MessageID() uuid.UUID     { return i.id }
func (i Identity) CorrelationID() uuid.UUID { return i.correlation }
func (i Identity) CausationID() uuid.UUID   { return i.causation }
