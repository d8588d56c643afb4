// Package telemetry provides OpenTelemetry tracing for stream traffic.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with stream-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include error text and payload sizes in spans
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NewNoopTracer()
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewNoopTracer returns a tracer that records nothing.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// SetDebug enables or disables debug mode.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Stream Spans ---

// StreamSpanOptions describes one envelope crossing the wire.
type StreamSpanOptions struct {
	Address string
	Topic   string
	Kind    string // N, E, C or P
	Bytes   int    // Payload size, only included if debug=true
}

func (o StreamSpanOptions) attributes(debug bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", "rxmq"),
		attribute.String("messaging.destination.name", o.Topic),
		attribute.String("rxmq.address", o.Address),
		attribute.String("rxmq.kind", o.Kind),
	}
	if debug && o.Bytes > 0 {
		attrs = append(attrs, attribute.Int("messaging.message.body.size", o.Bytes))
	}
	return attrs
}

// StartPublishSpan starts a span for sending one envelope.
func (t *Tracer) StartPublishSpan(ctx context.Context, opts StreamSpanOptions) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "publish "+opts.Topic, trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(opts.attributes(false)...)
	return ctx, span
}

// StartDispatchSpan starts a span for fanning one received envelope out to
// observers.
func (t *Tracer) StartDispatchSpan(ctx context.Context, opts StreamSpanOptions) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "process "+opts.Topic, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(opts.attributes(false)...)
	return ctx, span
}

// EndStreamSpan ends a publish or dispatch span.
func (t *Tracer) EndStreamSpan(span trace.Span, opts StreamSpanOptions, observers int, err error) {
	if t.debug {
		span.SetAttributes(opts.attributes(true)...)
	}
	if observers >= 0 {
		span.SetAttributes(attribute.Int("rxmq.observers", observers))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorText(err, t.debug))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// --- Helpers ---

func errorText(err error, debug bool) string {
	if debug {
		return truncate(err.Error(), 4000)
	}
	return truncate(err.Error(), 200)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
