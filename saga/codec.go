package saga

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Envelope is the wire form of a message. The three identifiers travel in
// the payload itself, not only as broker metadata, because the protocol's
// invariants are payload-level and must survive any transport.
type Envelope struct {
	MessageID     uuid.UUID       `json:"message_id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	CausationID   uuid.UUID       `json:"causation_id"`
	MessageType   string          `json:"message_type"`
	Payload       json.RawMessage `json:"payload"`
}

// Decoder rebuilds a concrete message from its envelope, restoring the
// identity with RestoreIdentity.
type Decoder func(Envelope) (Message, error)

// Codec maps message types to decoders and encodes any Message to its JSON
// envelope. Each bounded context registers its own types.
type Codec struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewCodec creates an empty codec.
func NewCodec() *Codec {
	return &Codec{decoders: make(map[string]Decoder)}
}

// Register installs the decoder for one message type.
func (c *Codec) Register(msgType string, d Decoder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[msgType] = d
}

// Encode serializes msg as a JSON envelope. The payload holds the message's
// exported context-specific fields; the identity is lifted into the
// envelope.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.MessageType(), err)
	}
	env := Envelope{
		MessageID:     msg.MessageID(),
		CorrelationID: msg.CorrelationID(),
		CausationID:   msg.CausationID(),
		MessageType:   msg.MessageType(),
		Payload:       payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msg.MessageType(), err)
	}
	return data, nil
}

// Decode rebuilds the concrete message from envelope bytes. An unregistered
// message type is an error: dropping it silently would hide a configuration
// mistake.
func (c *Codec) Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	c.mu.RLock()
	d, ok := c.decoders[env.MessageType]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decode envelope: no decoder registered for %q", env.MessageType)
	}
	msg, err := d(env)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.MessageType, err)
	}
	return msg, nil
}

// DecodePayload unmarshals an envelope's payload into a concrete message
// struct. The caller restores the identity afterwards.
func DecodePayload[T any](env Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, err
	}
	return v, nil
}
