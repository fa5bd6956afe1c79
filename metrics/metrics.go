// Package metrics provides OpenTelemetry instrumentation for the saga
// fabric and its handlers.
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/freyr/offer/saga"
)

// Metrics is the application metric set.
type Metrics struct {
	meter              metric.Meter
	eventsTotal        metric.Int64Counter
	stepsTotal         metric.Int64Counter
	compensationsTotal metric.Int64Counter
	handlerFailures    metric.Int64Counter
	eventDuration      metric.Float64Histogram
}

// NewMetrics creates the metric set on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("offer")

	eventsTotal, err := meter.Int64Counter(
		"saga_events_total",
		metric.WithDescription("Total number of saga messages dispatched"),
	)
	if err != nil {
		return nil, err
	}

	stepsTotal, err := meter.Int64Counter(
		"saga_steps_total",
		metric.WithDescription("Total number of participant step outcomes"),
	)
	if err != nil {
		return nil, err
	}

	compensationsTotal, err := meter.Int64Counter(
		"saga_compensations_total",
		metric.WithDescription("Total number of compensations performed"),
	)
	if err != nil {
		return nil, err
	}

	handlerFailures, err := meter.Int64Counter(
		"saga_handler_failures_total",
		metric.WithDescription("Total number of failed handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	eventDuration, err := meter.Float64Histogram(
		"saga_event_duration_seconds",
		metric.WithDescription("Message dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:              meter,
		eventsTotal:        eventsTotal,
		stepsTotal:         stepsTotal,
		compensationsTotal: compensationsTotal,
		handlerFailures:    handlerFailures,
		eventDuration:      eventDuration,
	}, nil
}

// RecordStep implements saga.StepRecorder. Compensations are counted twice:
// once as a step outcome and once on their own counter, since a
// technically-successful refund is not a plain success.
func (m *Metrics) RecordStep(ctx context.Context, participant, step string, outcome saga.StepOutcome, correlationID uuid.UUID) {
	attrs := metric.WithAttributes(
		attribute.String("participant", participant),
		attribute.String("step", step),
		attribute.String("outcome", string(outcome)),
	)
	m.stepsTotal.Add(ctx, 1, attrs)
	if outcome == saga.StepCompensated {
		m.compensationsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("participant", participant),
			attribute.String("step", step),
		))
	}
}

// EventMiddleware returns a fabric middleware recording dispatch counts and
// durations per message type.
func (m *Metrics) EventMiddleware() saga.Middleware {
	return func(ctx context.Context, msg saga.Message, next func(ctx context.Context, msg saga.Message) error) error {
		start := time.Now()
		err := next(ctx, msg)

		attrs := metric.WithAttributes(
			attribute.String("message_type", msg.MessageType()),
			attribute.Bool("success", err == nil),
		)
		m.eventsTotal.Add(ctx, 1, attrs)
		m.eventDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			m.handlerFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("message_type", msg.MessageType()),
			))
		}
		return err
	}
}
