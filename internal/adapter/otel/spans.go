package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "deskgate"

// StartTurnSpan starts a span covering one streamed turn.
func StartTurnSpan(ctx context.Context, turnID, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("session.id", sessionID),
		),
	)
}

// StartGateSpan starts a span for one desktop tool request, from evaluation
// through execution.
func StartGateSpan(ctx context.Context, requestID, tool, risk string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gate",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("toolcall.tool", tool),
			attribute.String("toolcall.risk", risk),
		),
	)
}

// StartLedgerSpan starts a span for a ledger API call.
func StartLedgerSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ledger."+op,
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
