package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/strataos/strata/internal/eventbus"
	"github.com/strataos/strata/internal/layer"
)

func TestInitDisabledIsNoop(t *testing.T) {
	t.Setenv("STRATA_OTEL_ENABLED", "")

	require.NoError(t, Init(context.Background(), "strata-test", "0.0.0"))
	assert.False(t, Enabled())

	// Noop providers still hand out usable instruments.
	tr := Tracer("")
	_, span := tr.Start(context.Background(), "test")
	span.End()

	Shutdown(context.Background())
}

func TestBusMetricsHandler(t *testing.T) {
	m, err := NewBusMetrics(metricnoop.NewMeterProvider().Meter("test"), tracenoop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	assert.Equal(t, "otel-metrics", m.ID())
	assert.True(t, m.InterestedIn(eventbus.NewEvent(layer.Hardware, eventbus.CategorySensorData, eventbus.PriorityLow)))

	e := eventbus.NewEvent(layer.Hardware, eventbus.CategorySensorData, eventbus.PriorityNormal)
	assert.NoError(t, m.Handle(context.Background(), e))
}

func TestBusMetricsRecordsDeliverySpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	m, err := NewBusMetrics(metricnoop.NewMeterProvider().Meter("test"), tp.Tracer("test"))
	require.NoError(t, err)

	e := eventbus.NewEvent(layer.P2P, eventbus.CategoryPeerConnected, eventbus.PriorityHigh)
	require.NoError(t, m.Handle(context.Background(), e))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "bus.deliver", spans[0].Name())

	attrs := spans[0].Attributes()
	got := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "peer_connected", got["category"])
	assert.Equal(t, "high", got["priority"])
	assert.Equal(t, string(layer.P2P), got["source"])
}

func TestRegisterBusGauges(t *testing.T) {
	meter := metricnoop.NewMeterProvider().Meter("test")

	bus := eventbus.New(eventbus.Config{})
	err := RegisterBusGauges(meter, bus.Statistics, func() int { return 0 })
	require.NoError(t, err)

	err = RegisterBusGauges(meter, bus.Statistics, nil)
	require.NoError(t, err)
}
