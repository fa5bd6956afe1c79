// Package observability provides distributed tracing for saga dispatch.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/freyr/offer/saga"
)

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
}

// Tracing owns the tracer provider lifecycle.
type Tracing struct {
	config   TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracing creates the tracing setup. When disabled it is a no-op whose
// middleware passes messages through untouched.
func NewTracing(config TracingConfig) (*Tracing, error) {
	t := &Tracing{config: config}
	if !config.Enabled {
		return t, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(config.SamplingRate)
	if config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(t.provider)
	t.tracer = t.provider.Tracer(config.ServiceName)
	return t, nil
}

// Middleware returns a fabric middleware opening one span per dispatched
// message, attributed with the three identifiers.
func (t *Tracing) Middleware() saga.Middleware {
	return func(ctx context.Context, msg saga.Message, next func(ctx context.Context, msg saga.Message) error) error {
		if t.tracer == nil {
			return next(ctx, msg)
		}
		ctx, span := t.tracer.Start(ctx, "saga.dispatch "+msg.MessageType(),
			trace.WithAttributes(
				attribute.String("saga.message_type", msg.MessageType()),
				attribute.String("saga.message_id", msg.MessageID().String()),
				attribute.String("saga.correlation_id", msg.CorrelationID().String()),
				attribute.String("saga.causation_id", msg.CausationID().String()),
			),
		)
		defer span.End()

		err := next(ctx, msg)
		if err != nil {
			span.RecordError(err)
		}
		return err
	}
}

// Shutdown flushes and stops the provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
