package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stagepass/workq/job"
)

// tracerName is the instrumentation scope name for workq tracing.
const tracerName = "github.com/stagepass/workq"

// Tracing returns middleware that wraps each execution attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware is a pass-through.
//
// Span attributes include: workq.job.id, workq.job.type, workq.tier,
// workq.attempt, workq.correlation_id. On error, the span status is set
// to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		ctx, span := tracer.Start(ctx, "workq.job.execute",
			trace.WithAttributes(
				attribute.String("workq.job.id", j.ID.String()),
				attribute.String("workq.job.type", j.Type),
				attribute.String("workq.tier", string(j.Tier)),
				attribute.Int("workq.attempt", j.Attempts),
				attribute.String("workq.correlation_id", j.CorrelationID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
