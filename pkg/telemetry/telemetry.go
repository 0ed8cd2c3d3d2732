// Package telemetry exposes the per-call pipeline fingerprint counters
// (spec.md §3: inbound, dropped-while-not-ready, dropped-while-bridged,
// sent-outbound packet counts) as OpenTelemetry counters rather than plain
// ints, so they aggregate across calls the way the rest of the pack
// instruments hot paths (MrWong99-glyphoxa, hieuntg81-alfred-ai).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lokutor-ai/lokutor-orchestrator/pkg/telephony"

// PipelineCounters are the observability-only counters from spec.md §3.
// They are never persisted and never gate behavior.
type PipelineCounters struct {
	Inbound           metric.Int64Counter
	DroppedNotReady   metric.Int64Counter
	DroppedBridged    metric.Int64Counter
	SentOutbound      metric.Int64Counter
	CallStateTransition metric.Int64Counter
}

// NewPipelineCounters registers the pipeline counters against the global
// meter provider. Safe to call once at process start; instruments are
// cheap no-ops if no MeterProvider has been configured.
func NewPipelineCounters() (*PipelineCounters, error) {
	meter := otel.Meter(meterName)

	inbound, err := meter.Int64Counter("call.media.inbound_packets",
		metric.WithDescription("inbound media packets received from the telephony provider"))
	if err != nil {
		return nil, err
	}
	droppedNotReady, err := meter.Int64Counter("call.media.dropped_not_ready_packets",
		metric.WithDescription("inbound media packets dropped because the STT session was not yet ready"))
	if err != nil {
		return nil, err
	}
	droppedBridged, err := meter.Int64Counter("call.media.dropped_bridged_packets",
		metric.WithDescription("inbound media packets dropped because the call was bridged to a human agent"))
	if err != nil {
		return nil, err
	}
	sentOutbound, err := meter.Int64Counter("call.media.sent_outbound_packets",
		metric.WithDescription("outbound media packets sent to the telephony provider"))
	if err != nil {
		return nil, err
	}
	stateTransition, err := meter.Int64Counter("call.state_transitions",
		metric.WithDescription("call controller state machine transitions"))
	if err != nil {
		return nil, err
	}

	return &PipelineCounters{
		Inbound:             inbound,
		DroppedNotReady:     droppedNotReady,
		DroppedBridged:      droppedBridged,
		SentOutbound:        sentOutbound,
		CallStateTransition: stateTransition,
	}, nil
}

// Noop returns a PipelineCounters backed by the global (no-op by default)
// meter provider, for callers that don't want to handle the registration
// error (e.g. tests, or a process that hasn't configured OTel yet).
func Noop() *PipelineCounters {
	c, _ := NewPipelineCounters()
	return c
}

// IncInbound records one inbound media packet.
func (p *PipelineCounters) IncInbound(ctx context.Context, callID string) {
	if p == nil {
		return
	}
	p.Inbound.Add(ctx, 1)
}

// IncDroppedNotReady records one inbound packet dropped pre-STT-ready.
func (p *PipelineCounters) IncDroppedNotReady(ctx context.Context, callID string) {
	if p == nil {
		return
	}
	p.DroppedNotReady.Add(ctx, 1)
}

// IncDroppedBridged records one inbound packet dropped because the call is bridged.
func (p *PipelineCounters) IncDroppedBridged(ctx context.Context, callID string) {
	if p == nil {
		return
	}
	p.DroppedBridged.Add(ctx, 1)
}

// IncSentOutbound records one outbound media packet sent.
func (p *PipelineCounters) IncSentOutbound(ctx context.Context, callID string) {
	if p == nil {
		return
	}
	p.SentOutbound.Add(ctx, 1)
}

// IncStateTransition records one call state machine transition.
func (p *PipelineCounters) IncStateTransition(ctx context.Context, callID string) {
	if p == nil {
		return
	}
	p.CallStateTransition.Add(ctx, 1)
}
