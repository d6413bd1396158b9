package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service's instruments. Construction is cheap; with
// telemetry disabled the global meter is a no-op and every record call is a
// near-free method dispatch.
type Metrics struct {
	errors     metric.Int64Counter
	batches    metric.Int64Counter
	rejections metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetrics registers the orderd instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := Meter("")

	errors, err := meter.Int64Counter("orderd.errors",
		metric.WithDescription("Errors surfaced to callers, by taxonomy code"))
	if err != nil {
		return nil, err
	}
	batches, err := meter.Int64Counter("orderd.batches",
		metric.WithDescription("Batch operations, by operation and aggregate outcome"))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("orderd.breaker.rejections",
		metric.WithDescription("Batches rejected at admission, by reason"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("orderd.batch.duration",
		metric.WithDescription("Batch operation duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{errors: errors, batches: batches, rejections: rejections, duration: duration}, nil
}

// RecordError counts one caller-visible error with the taxonomy tags.
func (m *Metrics) RecordError(ctx context.Context, code, statusClass, severity string, retryable bool) {
	if m == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.String("status_class", statusClass),
		attribute.String("severity", severity),
		attribute.Bool("retryable", retryable),
	))
}

// RecordBatch counts one completed batch operation.
func (m *Metrics) RecordBatch(ctx context.Context, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	m.batches.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRejection counts one admission rejection.
func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
