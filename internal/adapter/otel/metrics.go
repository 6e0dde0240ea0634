package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "nexus"

// Compliance outcomes of a chat turn.
const (
	ComplianceUnchecked       = "unchecked"
	ComplianceValidFirstTry   = "valid_first_try"
	ComplianceValidAfterRetry = "valid_after_retry"
	ComplianceInvalid         = "invalid_exhausted"
)

// Metrics holds the chat instruments. A nil *Metrics records nothing.
type Metrics struct {
	TurnsStarted  metric.Int64Counter
	TurnsDenied   metric.Int64Counter
	TurnsFailed   metric.Int64Counter
	Compliance    metric.Int64Counter
	ChunksSent    metric.Int64Counter
	TurnDuration  metric.Float64Histogram
	ResponseChars metric.Int64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("nexus.chat.turns.started",
		metric.WithDescription("Number of chat turns received"))
	if err != nil {
		return nil, err
	}

	m.TurnsDenied, err = meter.Int64Counter("nexus.chat.turns.denied",
		metric.WithDescription("Number of chat turns blocked by the prompt guard"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("nexus.chat.turns.failed",
		metric.WithDescription("Number of chat turns that ended in an error"))
	if err != nil {
		return nil, err
	}

	m.Compliance, err = meter.Int64Counter("nexus.chat.compliance",
		metric.WithDescription("Constraint validation outcome per completed turn"))
	if err != nil {
		return nil, err
	}

	m.ChunksSent, err = meter.Int64Counter("nexus.chat.chunks",
		metric.WithDescription("Number of streamed chunks forwarded to clients"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("nexus.chat.turn.duration_seconds",
		metric.WithDescription("Chat turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ResponseChars, err = meter.Int64Histogram("nexus.chat.response.chars",
		metric.WithDescription("Length of persisted responses in characters"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func engineAttr(engine string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("engine", engine))
}

// TurnStarted counts a received turn.
func (m *Metrics) TurnStarted(ctx context.Context, engine string) {
	if m == nil {
		return
	}
	m.TurnsStarted.Add(ctx, 1, engineAttr(engine))
}

// TurnDenied counts a turn blocked by the guard.
func (m *Metrics) TurnDenied(ctx context.Context, engine, category string) {
	if m == nil {
		return
	}
	m.TurnsDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine), attribute.String("category", category)))
}

// TurnFailed counts a turn that ended in chat_error.
func (m *Metrics) TurnFailed(ctx context.Context, engine string) {
	if m == nil {
		return
	}
	m.TurnsFailed.Add(ctx, 1, engineAttr(engine))
}

// TurnCompleted records the compliance outcome, chunk count, length and
// duration of a finished turn.
func (m *Metrics) TurnCompleted(ctx context.Context, engine, outcome string, chunks, chars int, seconds float64) {
	if m == nil {
		return
	}
	m.Compliance.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine), attribute.String("outcome", outcome)))
	m.ChunksSent.Add(ctx, int64(chunks), engineAttr(engine))
	m.ResponseChars.Record(ctx, int64(chars), engineAttr(engine))
	m.TurnDuration.Record(ctx, seconds, engineAttr(engine))
}
