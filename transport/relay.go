package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/freyr/offer/saga"
)

// Header keys mirroring the payload-level identifiers, for broker-side
// tooling only.
const (
	HeaderMessageID     = "message_id"
	HeaderCorrelationID = "correlation_id"
	HeaderCausationID   = "causation_id"
	HeaderMessageType   = "message_type"
)

// Relay is a saga handler that forwards messages to the broker: subscribed
// to a message type on the fabric, it encodes the message as a JSON envelope
// and publishes it on the subject equal to the message type.
type Relay struct {
	bus   MessageBus
	codec *saga.Codec
}

// NewRelay creates a relay over the given bus and codec.
func NewRelay(bus MessageBus, codec *saga.Codec) *Relay {
	return &Relay{bus: bus, codec: codec}
}

func (r *Relay) Handle(ctx context.Context, msg saga.Message) error {
	data, err := r.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("relay %s: %w", msg.MessageType(), err)
	}
	headers := map[string]string{
		HeaderMessageID:     msg.MessageID().String(),
		HeaderCorrelationID: msg.CorrelationID().String(),
		HeaderCausationID:   msg.CausationID().String(),
		HeaderMessageType:   msg.MessageType(),
	}
	if err := r.bus.Publish(ctx, msg.MessageType(), data, headers); err != nil {
		return fmt.Errorf("relay %s: %w", msg.MessageType(), err)
	}
	return nil
}

// Attach subscribes the relay on the fabric for the given message types.
func (r *Relay) Attach(f *saga.Fabric, msgTypes ...string) {
	for _, t := range msgTypes {
		f.Subscribe(t, r)
	}
}

// Ingress consumes envelope bytes from the broker, rebuilds the concrete
// message through the codec, and hands it to the local fabric. Decode
// failures and handler errors are returned to the bus so its at-least-once
// retry or dead-letter policy applies.
type Ingress struct {
	fabric *saga.Fabric
	codec  *saga.Codec
	logger *slog.Logger
}

// NewIngress creates an ingress into the given fabric. A nil logger falls
// back to slog.Default.
func NewIngress(fabric *saga.Fabric, codec *saga.Codec, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{fabric: fabric, codec: codec, logger: logger}
}

// Handler returns the bus-side handler.
func (i *Ingress) Handler() MessageHandler {
	return func(ctx context.Context, m *Message) error {
		msg, err := i.codec.Decode(m.Data)
		if err != nil {
			i.logger.Error("ingress decode failed", "subject", m.Subject, "error", err)
			return err
		}
		return i.fabric.Publish(ctx, msg)
	}
}

// Listen subscribes the ingress on the bus for the given subjects.
func (i *Ingress) Listen(ctx context.Context, bus MessageBus, subjects ...string) error {
	for _, s := range subjects {
		if err := bus.Subscribe(ctx, s, i.Handler()); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	return nil
}
