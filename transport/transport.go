// Package transport connects the in-process dispatch fabric to a message
// broker. The broker carries opaque envelope bytes; the three identifiers
// travel inside the payload and are only mirrored into headers for
// inspection, never treated as authoritative.
package transport

import "context"

// Message is one broker message.
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// MessageHandler consumes one broker message.
type MessageHandler func(ctx context.Context, msg *Message) error

// MessageBus is the narrow broker contract the saga needs: at-least-once
// publish/subscribe by subject. NATS and Kafka adapters live in
// adapters/messagebus.
type MessageBus interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
	Subscribe(ctx context.Context, subject string, handler MessageHandler) error
	Unsubscribe(subject string) error
	Close() error
}
