package telemetry

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	mqerrors "github.com/vinayprograms/rxmq/errors"
)

// DefaultServiceName names the service when neither config nor
// OTEL_SERVICE_NAME does.
const DefaultServiceName = "rxmq"

// ProviderConfig selects where rxmq spans are exported and how the process
// is labelled.
type ProviderConfig struct {
	// ServiceName defaults to OTEL_SERVICE_NAME, then DefaultServiceName.
	ServiceName string

	// Endpoint is the collector address ("localhost:4317"). Defaults to
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol is "grpc" (default) or "http".
	Protocol string

	Insecure bool

	// Debug adds payload sizes and full error text to spans.
	Debug bool

	// Transport and Codec label every span with the stack in use.
	Transport string
	Codec     string

	// SampleRatio is the fraction of root spans kept, in (0, 1]. Zero keeps
	// everything.
	SampleRatio float64
}

// Provider owns the tracer provider installed by InitProvider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider installs an OTLP-exporting tracer provider as the global
// provider and the returned tracer as the global rxmq tracer.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	endpoint, err := collectorEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	res, err := newResource(cfg)
	if err != nil {
		return nil, mqerrors.WrapWithCode(err, mqerrors.ErrCodeConfig, "building telemetry resource")
	}
	exporter, err := newExporter(ctx, cfg.Protocol, endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracerFromProvider(tp, serviceName(cfg.ServiceName), cfg.Debug)
	SetGlobalTracer(tracer)
	return &Provider{tp: tp, tracer: tracer}, nil
}

// collectorEndpoint strips any URL scheme; the exporters want host:port.
func collectorEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return "", mqerrors.Config("telemetry endpoint not configured (set telemetry.endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	}
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/"), nil
}

func serviceName(name string) string {
	if name == "" {
		name = os.Getenv("OTEL_SERVICE_NAME")
	}
	if name == "" {
		name = DefaultServiceName
	}
	return name
}

// newResource describes this process: one instance of a messaging client
// on a given transport and codec.
func newResource(cfg ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName(cfg.ServiceName)),
		semconv.ServiceInstanceID(uuid.NewString()),
		attribute.String("messaging.system", "rxmq"),
	}
	if cfg.Transport != "" {
		attrs = append(attrs, attribute.String("rxmq.transport", cfg.Transport))
	}
	if cfg.Codec != "" {
		attrs = append(attrs, attribute.String("rxmq.codec", cfg.Codec))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func newExporter(ctx context.Context, protocol, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, mqerrors.Config("unknown telemetry protocol " + protocol + " (use grpc or http)")
	}
	if err != nil {
		return nil, mqerrors.Wrap(err, "creating "+protocol+" span exporter")
	}
	return exp, nil
}

// sampler keeps the parent's decision and samples new roots at ratio.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// ProtocolForExporter maps a configured exporter name to an OTLP protocol.
// The second result is false for "none" and unknown names.
func ProtocolForExporter(exporter string) (string, bool) {
	switch strings.ToLower(exporter) {
	case "otlp-grpc", "grpc":
		return "grpc", true
	case "otlp-http", "http":
		return "http", true
	default:
		return "", false
	}
}

// Tracer returns the tracer for this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown exports buffered spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tp.ForceFlush(ctx), p.tp.Shutdown(ctx))
}
