// Package otelx installs the global OpenTelemetry tracer provider.
package otelx

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/xerrors"
)

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string
}

// ShutdownFunc flushes pending spans. Safe to call when tracing is disabled.
type ShutdownFunc func(context.Context) error

func (o Options) validate() error {
	var errs []error
	if o.Endpoint == "" {
		errs = append(errs, xerrors.New("otelx: endpoint is required when tracing is enabled"))
	}
	if o.Sample < 0 || o.Sample > 1 {
		errs = append(errs, xerrors.Newf("otelx: sample ratio must be within [0,1], got %v", o.Sample))
	}
	return errors.Join(errs...)
}

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

// Init installs a tracer provider. When disabled, spans are still created
// (so trace ids reach the logs) but never exported.
func Init(ctx context.Context, o Options) (ShutdownFunc, error) {
	if !o.Enabled {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		setPropagator()
		return tp.Shutdown, nil
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// the exporter is expected to be a local collector, a short bound is enough
	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "otelx: create otlp exporter")
	}

	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.Service+"."+o.Component),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	// a one-shot run ends long before a 5s batch timeout; Shutdown flushes
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.Sample),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	setPropagator()

	return tp.Shutdown, nil
}
