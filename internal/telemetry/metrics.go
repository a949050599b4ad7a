package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/strataos/strata/internal/eventbus"
)

// BusMetrics observes bus activity through the handler chain: every
// published event increments a counter tagged with its category and
// priority, its age at handling time feeds a latency histogram, and a
// short span records the delivery itself. Registered like any other
// handler, so the bus itself stays telemetry-free.
type BusMetrics struct {
	events  metric.Int64Counter
	latency metric.Float64Histogram
	tracer  trace.Tracer
}

// NewBusMetrics creates the bus instruments on the given meter and tracer.
func NewBusMetrics(meter metric.Meter, tracer trace.Tracer) (*BusMetrics, error) {
	events, err := meter.Int64Counter("strata.bus.events",
		metric.WithDescription("Events published on the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: events counter: %w", err)
	}
	latency, err := meter.Float64Histogram("strata.bus.delivery_latency_ms",
		metric.WithDescription("Time from event creation to handler dispatch"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: latency histogram: %w", err)
	}
	return &BusMetrics{events: events, latency: latency, tracer: tracer}, nil
}

func (m *BusMetrics) ID() string { return "otel-metrics" }

func (m *BusMetrics) InterestedIn(eventbus.Event) bool { return true }

func (m *BusMetrics) Handle(ctx context.Context, e eventbus.Event) error {
	attrs := []attribute.KeyValue{
		attribute.String("category", string(e.Metadata.Category)),
		attribute.String("priority", e.Metadata.Priority.String()),
	}
	ctx, span := m.tracer.Start(ctx, "bus.deliver",
		trace.WithAttributes(append(attrs,
			attribute.Int64("event_id", int64(e.Metadata.ID)),
			attribute.String("source", string(e.Metadata.Source)),
		)...))
	defer span.End()

	m.events.Add(ctx, 1, metric.WithAttributes(attrs...))
	ageMs := float64(time.Since(e.Metadata.Timestamp)) / float64(time.Millisecond)
	m.latency.Record(ctx, ageMs, metric.WithAttributes(attrs...))
	return nil
}

// RegisterBusGauges exports the bus aggregate counters as observable
// gauges. statsFn is polled at collection time; depthFn reports the router
// queue depth (pass nil to skip it).
func RegisterBusGauges(meter metric.Meter, statsFn func() eventbus.Statistics, depthFn func() int) error {
	dropped, err := meter.Int64ObservableGauge("strata.bus.dropped_events",
		metric.WithDescription("Events dropped on full subscriber channels"),
	)
	if err != nil {
		return fmt.Errorf("telemetry: dropped gauge: %w", err)
	}
	avgMs, err := meter.Float64ObservableGauge("strata.bus.avg_processing_ms",
		metric.WithDescription("Running mean publish pipeline time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("telemetry: avg gauge: %w", err)
	}

	instruments := []metric.Observable{dropped, avgMs}

	var queueDepth metric.Int64ObservableGauge
	if depthFn != nil {
		queueDepth, err = meter.Int64ObservableGauge("strata.router.queue_depth",
			metric.WithDescription("Events waiting in the router queue"),
		)
		if err != nil {
			return fmt.Errorf("telemetry: queue depth gauge: %w", err)
		}
		instruments = append(instruments, queueDepth)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := statsFn()
		o.ObserveInt64(dropped, int64(stats.DroppedEvents))
		o.ObserveFloat64(avgMs, stats.AvgProcessingMs)
		if depthFn != nil {
			o.ObserveInt64(queueDepth, int64(depthFn()))
		}
		return nil
	}, instruments...)
	if err != nil {
		return fmt.Errorf("telemetry: register callback: %w", err)
	}
	return nil
}
