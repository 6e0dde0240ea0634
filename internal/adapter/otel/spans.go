package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "nexus"

// StartTurnSpan starts a span for one chat turn.
func StartTurnSpan(ctx context.Context, conversationID, engine string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.turn",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("engine", engine),
		),
	)
}

// StartInferenceSpan starts a span for one streaming inference attempt.
func StartInferenceSpan(ctx context.Context, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.inference",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("attempt", attempt)),
	)
}

// StartPersistSpan starts a span for persisting one turn.
func StartPersistSpan(ctx context.Context, role string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.persist",
		trace.WithAttributes(attribute.String("message.role", role)),
	)
}
