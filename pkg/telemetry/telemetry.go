package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/datnetwork/datmind/pkg/config"
	"github.com/datnetwork/datmind/pkg/logging"
)

const instrumentationName = "github.com/datnetwork/datmind"

var (
	tracer trace.Tracer
)

// Init initializes OpenTelemetry with Jaeger and Prometheus exporters
func Init(cfg *config.TelemetryConfig) (func(), error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Telemetry disabled")
		return func() {}, nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var shutdownFuncs []func(context.Context) error

	if cfg.JaegerURL != "" {
		jaegerExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(jaegerExporter),
			sdktrace.WithResource(res),
		)

		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

		logging.GetLogger().Info("Jaeger exporter initialized", zap.String("url", cfg.JaegerURL))
	}

	// The exporter registers with the default prometheus registry served on /metrics
	if cfg.PrometheusEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}

		mp := metric.NewMeterProvider(
			metric.WithReader(exporter),
			metric.WithResource(res),
		)

		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)

		logging.GetLogger().Info("Prometheus exporter initialized", zap.Int("port", cfg.PrometheusPort))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = otel.Tracer(cfg.ServiceName)

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, fn := range shutdownFuncs {
			if err := func() error {
				ctx, cancel := context.WithTimeout(shutdownCtx, 3*time.Second)
				defer cancel()
				return fn(ctx)
			}(); err != nil {
				logging.GetLogger().Error("Error shutting down telemetry", zap.Error(err))
			}
		}
	}

	return shutdown, nil
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("datmind")
	}
	return tracer
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// Instruments are resolved lazily from the global meter provider so that Init can
// run before or after the first command without losing registrations.
func meter() otelmetric.Meter {
	return otel.Meter(instrumentationName)
}

// RecordCommand counts one dispatched ledger command by action and outcome
func RecordCommand(ctx context.Context, action string, ok bool, elapsed time.Duration) {
	outcome := "accepted"
	if !ok {
		outcome = "rejected"
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	)

	if counter, err := meter().Int64Counter("datmind_commands_total",
		otelmetric.WithDescription("Ledger commands dispatched")); err == nil {
		counter.Add(ctx, 1, attrs)
	}
	if hist, err := meter().Float64Histogram("datmind_command_duration_seconds",
		otelmetric.WithDescription("Ledger command round-trip time")); err == nil {
		hist.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// RecordStreamEvent counts stream batches applied per entity kind
func RecordStreamEvent(ctx context.Context, kind string, events int) {
	if counter, err := meter().Int64Counter("datmind_stream_events_total",
		otelmetric.WithDescription("Ledger stream events applied")); err == nil {
		counter.Add(ctx, int64(events), otelmetric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordRPC counts one JSON-RPC call by method and error code; code 0 is success
func RecordRPC(ctx context.Context, method string, code int, elapsed time.Duration) {
	attrs := otelmetric.WithAttributes(
		attribute.String("method", method),
		attribute.Int("code", code),
	)
	if counter, err := meter().Int64Counter("datmind_rpc_requests_total",
		otelmetric.WithDescription("JSON-RPC calls served")); err == nil {
		counter.Add(ctx, 1, attrs)
	}
	if hist, err := meter().Float64Histogram("datmind_rpc_duration_seconds",
		otelmetric.WithDescription("JSON-RPC call latency")); err == nil {
		hist.Record(ctx, elapsed.Seconds(), attrs)
	}
}
