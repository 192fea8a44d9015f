// Package telemetry wires the pipeline driver's instruction lifecycle
// and queue/resource state into OpenTelemetry spans and instruments,
// grounded on the teacher's internal/storage/dolt/store.go (a
// package-level otel.Tracer/otel.Meter pair registered at init time
// against the global, initially no-op provider) and
// internal/hooks/hooks_otel.go (span events carrying bounded output).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/corestack/taskpipe/pipeline"

var tracer = otel.Tracer(instrumentationName)
var meter = otel.Meter(instrumentationName)

var instructionDuration metric.Float64Histogram

func init() {
	var err error
	instructionDuration, err = meter.Float64Histogram("taskpipe.pipeline.instruction_duration",
		metric.WithDescription("Time from IF admission to WB completion"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		instructionDuration, _ = meter.Float64Histogram("taskpipe.pipeline.instruction_duration")
	}
}

// Shutdown flushes and releases the providers Init installed.
type Shutdown func(context.Context) error

// Init installs a global TracerProvider/MeterProvider writing to
// stdout. It is meant for local development and the exercise-the-stack
// CLI default; a production deployment would swap the stdout exporters
// for an OTLP one without touching any call site below.
func Init(ctx context.Context) (Shutdown, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: new trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: new metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return mp.Shutdown(shutdownCtx)
	}, nil
}

// StartInstruction opens a span covering one instruction's IF→WB
// lifecycle (spec.md §4.F). Callers end it with EndInstruction.
func StartInstruction(ctx context.Context, instructionType, correlationID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pipeline.instruction",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("taskpipe.instruction_type", instructionType),
			attribute.String("taskpipe.correlation_id", correlationID),
		),
	)
}

// EndInstruction closes span, recording err (if any) and the observed
// IF-to-WB duration in milliseconds. span may be nil if StartInstruction
// was never called for this instruction (e.g. it failed validation or
// optimistic apply in EX before its request was launched).
func EndInstruction(ctx context.Context, span trace.Span, durationMS float64, err error) {
	instructionDuration.Record(ctx, durationMS)
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// GaugeReaders supplies the pipeline driver's current depth counts.
// Each is read on demand at metric-collection time rather than pushed,
// since the driver's bookkeeping (spec.md §5) is never concurrent with
// itself and a point-in-time read is always consistent.
type GaugeReaders struct {
	QueueDepth          func() int64
	ActiveResourceCount func() int64
	CorrelationEntries  func() int64
}

// RegisterGauges installs observable gauges backed by readers. The
// returned function unregisters them; callers should defer it for the
// lifetime of the Pipeline they describe.
func RegisterGauges(readers GaugeReaders) (unregister func(), err error) {
	queueDepth, err := meter.Int64ObservableGauge("taskpipe.pipeline.queue_depth",
		metric.WithDescription("Instructions awaiting admission in IF's pending queue"),
		metric.WithUnit("{instruction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: queue_depth gauge: %w", err)
	}
	activeResources, err := meter.Int64ObservableGauge("taskpipe.pipeline.active_resources",
		metric.WithDescription("Distinct resource keys currently held by in-flight instructions"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: active_resources gauge: %w", err)
	}
	correlationEntries, err := meter.Int64ObservableGauge("taskpipe.correlation.in_flight",
		metric.WithDescription("Correlation Registry entries awaiting a matching echo event"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: correlation.in_flight gauge: %w", err)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if readers.QueueDepth != nil {
			o.ObserveInt64(queueDepth, readers.QueueDepth())
		}
		if readers.ActiveResourceCount != nil {
			o.ObserveInt64(activeResources, readers.ActiveResourceCount())
		}
		if readers.CorrelationEntries != nil {
			o.ObserveInt64(correlationEntries, readers.CorrelationEntries())
		}
		return nil
	}, queueDepth, activeResources, correlationEntries)
	if err != nil {
		return nil, fmt.Errorf("telemetry: register callback: %w", err)
	}

	return func() { _ = reg.Unregister() }, nil
}
