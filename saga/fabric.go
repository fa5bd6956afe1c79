package saga

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Middleware wraps message delivery for cross-cutting concerns (metrics,
// tracing, history capture).
type Middleware func(ctx context.Context, msg Message, next func(ctx context.Context, msg Message) error) error

// DeadLetterQueue receives messages whose processing failed, together with
// the reason. Compensation failures end up here: they are never retried by
// the fabric and never silently swallowed.
type DeadLetterQueue interface {
	Publish(ctx context.Context, msg Message, reason string) error
}

// Fabric is the dispatch fabric: a pure routing table from message type to
// registered handlers. It holds no business state. Delivery is synchronous
// and in registration order; a handler that publishes further messages does
// so recursively on the calling goroutine, so one command executes its whole
// chain before Publish returns. Asynchronous production dispatch is layered
// on top by the transport package.
type Fabric struct {
	mu         sync.RWMutex
	handlers   map[string][]Handler
	middleware []Middleware
	dlq        DeadLetterQueue
	logger     *slog.Logger
}

// NewFabric creates an empty fabric. A nil logger falls back to slog.Default.
func NewFabric(logger *slog.Logger) *Fabric {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fabric{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// WithMiddleware appends a middleware to the delivery chain.
func (f *Fabric) WithMiddleware(mw Middleware) *Fabric {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.middleware = append(f.middleware, mw)
	return f
}

// WithDeadLetterQueue sets the dead letter queue for failed deliveries.
func (f *Fabric) WithDeadLetterQueue(dlq DeadLetterQueue) *Fabric {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = dlq
	return f
}

// Subscribe registers one handler for one message type. Multiple handlers
// per type are permitted; they are invoked in registration order.
func (f *Fabric) Subscribe(msgType string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[msgType] = append(f.handlers[msgType], h)
	f.logger.Debug("handler subscribed", "message_type", msgType, "handlers", len(f.handlers[msgType]))
}

// Publish delivers msg to every handler registered for its type and returns
// once all of them completed. A message with no registered handler is a
// no-op: terminal events legitimately have no subscriber in some wirings.
// Handler errors are joined and returned to the caller; the message whose
// own handler failed is handed to the dead letter queue when one is
// configured.
func (f *Fabric) Publish(ctx context.Context, msg Message) error {
	if msg.MessageID() == uuid.Nil {
		return ErrMissingMessageID
	}
	if msg.CorrelationID() == uuid.Nil {
		return ErrMissingCorrelation
	}

	f.mu.RLock()
	middleware := f.middleware
	f.mu.RUnlock()

	next := f.deliver
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		prevNext := next
		next = func(ctx context.Context, msg Message) error {
			return mw(ctx, msg, prevNext)
		}
	}

	return next(ctx, msg)
}

// deadLetteredError marks an error whose message already landed in the dead
// letter queue. Handlers republish recursively through the same fabric, so
// without the marker a single deep failure would dead-letter every ancestor
// message in the chain; the marker limits the entry to the failing frame.
type deadLetteredError struct {
	err error
}

func (e *deadLetteredError) Error() string { return e.err.Error() }
func (e *deadLetteredError) Unwrap() error { return e.err }

func alreadyDeadLettered(err error) bool {
	var dl *deadLetteredError
	return errors.As(err, &dl)
}

func (f *Fabric) deliver(ctx context.Context, msg Message) error {
	f.mu.RLock()
	handlers := f.handlers[msg.MessageType()]
	dlq := f.dlq
	f.mu.RUnlock()

	f.logger.Info("message published",
		"message_type", msg.MessageType(),
		"message_id", msg.MessageID(),
		"correlation_id", msg.CorrelationID(),
		"causation_id", msg.CausationID(),
		"handlers", len(handlers),
	)

	var errs []error
	fresh := false
	for _, h := range handlers {
		if err := h.Handle(ctx, msg); err != nil {
			f.logger.Error("handler failed",
				"message_type", msg.MessageType(),
				"correlation_id", msg.CorrelationID(),
				"error", err,
			)
			errs = append(errs, err)
			if !alreadyDeadLettered(err) {
				fresh = true
			}
		}
	}

	err := errors.Join(errs...)
	if err == nil || dlq == nil {
		return err
	}
	// Only a failure originating in this frame's own handlers dead-letters
	// this message; an error bubbling up from a nested publish was already
	// recorded against the message that caused it.
	if fresh {
		if dlqErr := dlq.Publish(ctx, msg, err.Error()); dlqErr != nil {
			err = errors.Join(err, dlqErr)
		}
	}
	return &deadLetteredError{err: err}
}

// History is a middleware that records every message passing through the
// fabric, in delivery order. Tests and audit listeners use it; the fabric
// itself never retains messages.
type History struct {
	mu   sync.Mutex
	msgs []Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Middleware returns the recording middleware. The message is recorded
// before delivery so the slice reflects publish order even for recursive
// chains.
func (h *History) Middleware() Middleware {
	return func(ctx context.Context, msg Message, next func(ctx context.Context, msg Message) error) error {
		h.mu.Lock()
		h.msgs = append(h.msgs, msg)
		h.mu.Unlock()
		return next(ctx, msg)
	}
}

// Messages returns a copy of everything recorded so far.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// ForCorrelation returns the recorded messages belonging to one saga
// execution, in publish order.
func (h *History) ForCorrelation(correlationID uuid.UUID) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Message
	for _, m := range h.msgs {
		if m.CorrelationID() == correlationID {
			out = append(out, m)
		}
	}
	return out
}

// MemoryDeadLetterQueue collects dead letters in memory, for tests and for
// single-process wiring without a broker.
type MemoryDeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetter
}

// DeadLetter is one captured failure.
type DeadLetter struct {
	Message Message
	Reason  string
}

// NewMemoryDeadLetterQueue creates an empty queue.
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{}
}

func (q *MemoryDeadLetterQueue) Publish(ctx context.Context, msg Message, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, DeadLetter{Message: msg, Reason: reason})
	return nil
}

// Entries returns a copy of the captured dead letters.
func (q *MemoryDeadLetterQueue) Entries() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.entries))
	copy(out, q.entries)
	return out
}
