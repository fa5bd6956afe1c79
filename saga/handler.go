package saga

import (
	"context"

	"github.com/google/uuid"
)

// Handler is the unit of computation: it consumes one concrete message type,
// performs at most one local state mutation, and emits zero or more output
// messages through the Publisher it was constructed with. Handlers never call
// each other directly and never read another bounded context's state.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Publisher is the narrow capability handed to handlers at construction.
// A handler that emits anything does so only through this interface.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// StepOutcome labels one handler invocation for external tracing. A
// technically-successful refund is a business-level compensation, not a plain
// success, so compensated is distinct from succeeded.
type StepOutcome string

const (
	StepSucceeded   StepOutcome = "succeeded"
	StepFailed      StepOutcome = "failed"
	StepCompensated StepOutcome = "compensated"
)

// StepRecorder receives a structured record for each handler invocation.
type StepRecorder interface {
	RecordStep(ctx context.Context, participant, step string, outcome StepOutcome, correlationID uuid.UUID)
}

// NopStepRecorder discards every record.
type NopStepRecorder struct{}

func (NopStepRecorder) RecordStep(context.Context, string, string, StepOutcome, uuid.UUID) {}
