package observability

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records registry metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordRegistration records an event registration. created is
	// false when the registration resolved to an existing event.
	RecordRegistration(ctx context.Context, event string, created bool)

	// RecordDeletion records a successful event deletion.
	RecordDeletion(ctx context.Context, event string)

	// RecordBitWrite records an enablement bit write attempt.
	RecordBitWrite(ctx context.Context, ok bool)

	// RecordFaultQueued records a fault job handed to the worker pool.
	RecordFaultQueued(ctx context.Context)

	// RecordEmit records an emit call with its payload size and
	// whether the record was discarded by validation.
	RecordEmit(ctx context.Context, event string, sizeBytes int64, faulted bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	registrations metric.Int64Counter
	deletions     metric.Int64Counter
	bitWrites     metric.Int64Counter
	faultsQueued  metric.Int64Counter
	emits         metric.Int64Counter
	discards      metric.Int64Counter
	payloadSize   metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("uevents")

	registrations, err := meter.Int64Counter("uevents.registry.registrations",
		metric.WithDescription("Number of event registrations"),
	)
	if err != nil {
		return nil, err
	}

	deletions, err := meter.Int64Counter("uevents.registry.deletions",
		metric.WithDescription("Number of event deletions"),
	)
	if err != nil {
		return nil, err
	}

	bitWrites, err := meter.Int64Counter("uevents.enabler.bit_writes",
		metric.WithDescription("Number of enablement bit write attempts"),
	)
	if err != nil {
		return nil, err
	}

	faultsQueued, err := meter.Int64Counter("uevents.enabler.faults_queued",
		metric.WithDescription("Number of fault jobs handed to the worker pool"),
	)
	if err != nil {
		return nil, err
	}

	emits, err := meter.Int64Counter("uevents.emit.records",
		metric.WithDescription("Number of emit calls"),
	)
	if err != nil {
		return nil, err
	}

	discards, err := meter.Int64Counter("uevents.emit.discards",
		metric.WithDescription("Number of records discarded by validation"),
	)
	if err != nil {
		return nil, err
	}

	payloadSize, err := meter.Int64Histogram("uevents.emit.payload_bytes",
		metric.WithDescription("Emitted payload size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		registrations: registrations,
		deletions:     deletions,
		bitWrites:     bitWrites,
		faultsQueued:  faultsQueued,
		emits:         emits,
		discards:      discards,
		payloadSize:   payloadSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordRegistration records an event registration.
func (m *otelMetrics) RecordRegistration(ctx context.Context, event string, created bool) {
	m.registrations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.Bool("created", created),
	))
}

// RecordDeletion records an event deletion.
func (m *otelMetrics) RecordDeletion(ctx context.Context, event string) {
	m.deletions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
	))
}

// RecordBitWrite records an enablement bit write attempt.
func (m *otelMetrics) RecordBitWrite(ctx context.Context, ok bool) {
	m.bitWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("ok", ok),
	))
}

// RecordFaultQueued records a queued fault job.
func (m *otelMetrics) RecordFaultQueued(ctx context.Context) {
	m.faultsQueued.Add(ctx, 1)
}

// RecordEmit records an emit call.
func (m *otelMetrics) RecordEmit(ctx context.Context, event string, sizeBytes int64, faulted bool) {
	attrs := []attribute.KeyValue{
		attribute.String("event", event),
	}

	m.emits.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.payloadSize.Record(ctx, sizeBytes, metric.WithAttributes(attrs...))

	if faulted {
		m.discards.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
