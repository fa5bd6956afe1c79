package transport

import (
	"context"
	"sync"
)

// InMemoryBus is a MessageBus for tests and single-process wiring: delivery
// is synchronous on the publishing goroutine.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]MessageHandler
	closed   bool
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]MessageHandler)}
}

func (b *InMemoryBus) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	b.mu.RLock()
	handlers := b.handlers[subject]
	b.mu.RUnlock()
	for _, h := range handlers {
		msg := &Message{Subject: subject, Data: data, Headers: headers}
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *InMemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	return nil
}

func (b *InMemoryBus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, subject)
	return nil
}

func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[string][]MessageHandler)
	return nil
}
