package parslet

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InitTelemetry configures a global tracer provider with an OTLP/gRPC
// exporter. If the exporter cannot be reached it logs a warning and falls
// back to a no-op shutdown, so a run never fails just because no collector
// is listening (edge devices routinely run fully disconnected).
func InitTelemetry(ctx context.Context, service string) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		slog.Warn("otel exporter init failed, tracing disabled", "error", err)
		return func(context.Context) error { return nil }
	}
	res := resource.NewSchemaless(attribute.String("service.name", service))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized", "endpoint", endpoint)
	return tp.Shutdown
}

// runnerMetrics bundles the instruments a Runner records against while
// dispatching a run, mirrored one-for-one from the counters/histogram/gauge
// used by the workflow engine this package is adapted from.
type runnerMetrics struct {
	taskDuration metric.Float64Histogram
	taskDone     metric.Int64Counter
	taskFailures metric.Int64Counter
	parallelism  metric.Int64Gauge
}

func newRunnerMetrics(meter metric.Meter) runnerMetrics {
	taskDuration, _ := meter.Float64Histogram("parslet_task_duration_ms")
	taskDone, _ := meter.Int64Counter("parslet_task_completed_total")
	taskFailures, _ := meter.Int64Counter("parslet_task_failures_total")
	parallelism, _ := meter.Int64Gauge("parslet_active_workers")
	return runnerMetrics{
		taskDuration: taskDuration,
		taskDone:     taskDone,
		taskFailures: taskFailures,
		parallelism:  parallelism,
	}
}

// noopMeter is used when a Runner is constructed without an explicit
// meter (e.g. in tests), so metric recording is always safe to call.
func noopMeter() metric.Meter {
	return sdkmetric.NewMeterProvider().Meter("parslet")
}

func withTraceAttrs(taskName string, futureID FutureID) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("task.name", taskName),
		attribute.Int64("future.id", int64(futureID)),
	)
}

func durationMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
