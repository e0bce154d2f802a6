package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest creates a test tracer provider with an in-memory span recorder.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	// Update the package-level tracer
	tracer = otel.Tracer("uevents")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

func TestStartRegisterSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	_, span := sm.StartRegisterSpan(context.Background(), "login")
	require.NotNil(t, span)
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "uevents.register", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestStartEmitSpan_WithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	_, span := sm.StartEmitSpan(context.Background(), "login")
	sm.EndSpanWithError(span, errors.New("record discarded"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "uevents.emit", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.NotEmpty(t, spans[0].Events)
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	ctx, span := sm.StartEmitSpan(context.Background(), "login")
	sm.AddSpanEvent(ctx, "fault queued")
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "fault queued", spans[0].Events[0].Name)
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}

	assert.NotPanics(t, func() {
		ctx, span := sm.StartRegisterSpan(context.Background(), "e")
		sm.AddSpanEvent(ctx, "event")
		sm.EndSpanWithError(span, errors.New("x"))
	})
}
