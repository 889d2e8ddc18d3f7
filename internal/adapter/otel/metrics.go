package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "deskgate"

// Metrics holds the gate and turn instruments. A nil *Metrics records nothing.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsFinished  metric.Int64Counter
	TurnDuration   metric.Float64Histogram
	ToolCalls      metric.Int64Counter
	GateRequests   metric.Int64Counter
	GateDecisions  metric.Int64Counter
	GateWait       metric.Float64Histogram
	LedgerFailures metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("deskgate.turns.started",
		metric.WithDescription("Number of turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsFinished, err = meter.Int64Counter("deskgate.turns.finished",
		metric.WithDescription("Number of turns finished, by final status"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("deskgate.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("deskgate.toolcalls",
		metric.WithDescription("Number of tool calls seen on the stream"))
	if err != nil {
		return nil, err
	}

	m.GateRequests, err = meter.Int64Counter("deskgate.gate.requests",
		metric.WithDescription("Desktop tool requests evaluated by the gate"))
	if err != nil {
		return nil, err
	}

	m.GateDecisions, err = meter.Int64Counter("deskgate.gate.decisions",
		metric.WithDescription("Gate decisions, by source and verdict"))
	if err != nil {
		return nil, err
	}

	m.GateWait, err = meter.Float64Histogram("deskgate.gate.wait_seconds",
		metric.WithDescription("Time a gated request waited for a decision"))
	if err != nil {
		return nil, err
	}

	m.LedgerFailures, err = meter.Int64Counter("deskgate.ledger.failures",
		metric.WithDescription("Ledger calls that failed and fell back to local gating"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TurnStarted counts a new turn.
func (m *Metrics) TurnStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.TurnsStarted.Add(ctx, 1)
}

// TurnFinished records the final status and duration of a turn.
func (m *Metrics) TurnFinished(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.TurnsFinished.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// ToolCall counts a tool call by kind.
func (m *Metrics) ToolCall(ctx context.Context, tool, kind string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("kind", kind),
	))
}

// GateRequest counts an evaluated desktop request.
func (m *Metrics) GateRequest(ctx context.Context, risk, policy string, gated bool) {
	if m == nil {
		return
	}
	m.GateRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("risk", risk),
		attribute.String("policy", policy),
		attribute.Bool("gated", gated),
	))
}

// GateDecision counts a decision and records how long it took.
func (m *Metrics) GateDecision(ctx context.Context, source string, approved bool, waited time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("approved", approved),
	)
	m.GateDecisions.Add(ctx, 1, attrs)
	m.GateWait.Record(ctx, waited.Seconds(), attrs)
}

// LedgerFailure counts a failed ledger operation.
func (m *Metrics) LedgerFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.LedgerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
