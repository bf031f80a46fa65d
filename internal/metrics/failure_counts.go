package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FailureCountGauge records the latest open and archived failure totals.
type FailureCountGauge interface {
	Record(ctx context.Context, unresolved, archived int64)
}

type failureCountGauge struct {
	gauge metric.Int64Gauge
}

// NewFailureCountGauge creates a gauge named <namespace>_failed_messages with a status label.
func NewFailureCountGauge(meterProvider metric.MeterProvider, namespace string) (FailureCountGauge, error) {
	meter := meterProvider.Meter(namespace)

	gauge, err := meter.Int64Gauge(
		fmt.Sprintf("%s_failed_messages", namespace),
		metric.WithDescription("Current number of failed messages by status"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failed messages gauge: %w", err)
	}

	return &failureCountGauge{gauge: gauge}, nil
}

func (f *failureCountGauge) Record(ctx context.Context, unresolved, archived int64) {
	f.gauge.Record(ctx, unresolved, metric.WithAttributes(attribute.String("status", "unresolved")))
	f.gauge.Record(ctx, archived, metric.WithAttributes(attribute.String("status", "archived")))
}

// NoOpFailureCountGauge is used when metrics are disabled.
type NoOpFailureCountGauge struct{}

// Record does nothing.
func (NoOpFailureCountGauge) Record(ctx context.Context, unresolved, archived int64) {}
