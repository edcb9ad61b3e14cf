// Package metrics records history subsystem metrics.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records history metrics.
// Use NewRecorder() for OTel metrics or Noop{} when disabled.
type Recorder interface {
	// RecordEvent records an event accepted into the hot store.
	RecordEvent(ctx context.Context, category string)

	// RecordEviction records an event dropped at a hot bucket's hard cap.
	RecordEviction(ctx context.Context, bucket string)

	// RecordBroadcastDrop records an event a slow subscriber missed.
	RecordBroadcastDrop(ctx context.Context)

	// RecordMigration records a finished migration job.
	RecordMigration(ctx context.Context, success bool, events int, duration time.Duration)

	// RecordQuery records a query execution.
	RecordQuery(ctx context.Context, coldConsulted bool, rows int, duration time.Duration)

	// RecordColdWrite records bytes written to an archive file.
	RecordColdWrite(ctx context.Context, category string, sizeBytes int64)
}

// otelRecorder implements Recorder using OpenTelemetry.
type otelRecorder struct {
	eventsRecorded   metric.Int64Counter
	hotEvictions     metric.Int64Counter
	broadcastDrops   metric.Int64Counter
	migrations       metric.Int64Counter
	eventsMigrated   metric.Int64Counter
	migrationLatency metric.Float64Histogram
	queries          metric.Int64Counter
	queryLatency     metric.Float64Histogram
	coldBytes        metric.Int64Counter
}

var (
	defaultRecorder     *otelRecorder
	defaultRecorderOnce sync.Once
	defaultRecorderErr  error
)

// NewRecorder returns a Recorder that uses the global OpenTelemetry meter
// provider. If instrument creation fails, a no-op recorder is returned.
//
// Configure the provider before calling:
//
//	otel.SetMeterProvider(yourProvider)
func NewRecorder() Recorder {
	defaultRecorderOnce.Do(func() {
		defaultRecorder, defaultRecorderErr = newOtelRecorder(otel.Meter("homehistory"))
	})
	if defaultRecorderErr != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", defaultRecorderErr.Error()))
		return Noop{}
	}
	return defaultRecorder
}

// NewRecorderWithMeter returns a Recorder bound to the given meter.
func NewRecorderWithMeter(meter metric.Meter) (Recorder, error) {
	return newOtelRecorder(meter)
}

func newOtelRecorder(meter metric.Meter) (*otelRecorder, error) {
	r := &otelRecorder{}
	var err error

	if r.eventsRecorded, err = meter.Int64Counter("homehistory.events.recorded",
		metric.WithDescription("Number of events accepted into the hot store"),
	); err != nil {
		return nil, err
	}

	if r.hotEvictions, err = meter.Int64Counter("homehistory.hot.evictions",
		metric.WithDescription("Number of events dropped at a hot bucket hard cap"),
	); err != nil {
		return nil, err
	}

	if r.broadcastDrops, err = meter.Int64Counter("homehistory.broadcast.drops",
		metric.WithDescription("Number of events not delivered to slow subscribers"),
	); err != nil {
		return nil, err
	}

	if r.migrations, err = meter.Int64Counter("homehistory.tiering.migrations",
		metric.WithDescription("Number of migration jobs"),
	); err != nil {
		return nil, err
	}

	if r.eventsMigrated, err = meter.Int64Counter("homehistory.tiering.events_migrated",
		metric.WithDescription("Number of events moved from hot to cold storage"),
	); err != nil {
		return nil, err
	}

	if r.migrationLatency, err = meter.Float64Histogram("homehistory.tiering.latency_ms",
		metric.WithDescription("Migration job latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if r.queries, err = meter.Int64Counter("homehistory.query.executions",
		metric.WithDescription("Number of executed queries"),
	); err != nil {
		return nil, err
	}

	if r.queryLatency, err = meter.Float64Histogram("homehistory.query.latency_ms",
		metric.WithDescription("Query latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if r.coldBytes, err = meter.Int64Counter("homehistory.cold.bytes_written",
		metric.WithDescription("Bytes written to archive files"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *otelRecorder) RecordEvent(ctx context.Context, category string) {
	r.eventsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (r *otelRecorder) RecordEviction(ctx context.Context, bucket string) {
	r.hotEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", bucket)))
}

func (r *otelRecorder) RecordBroadcastDrop(ctx context.Context) {
	r.broadcastDrops.Add(ctx, 1)
}

func (r *otelRecorder) RecordMigration(ctx context.Context, success bool, events int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	r.migrations.Add(ctx, 1, attrs)
	r.migrationLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if success && events > 0 {
		r.eventsMigrated.Add(ctx, int64(events))
	}
}

func (r *otelRecorder) RecordQuery(ctx context.Context, coldConsulted bool, rows int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("cold", coldConsulted))
	r.queries.Add(ctx, 1, attrs)
	r.queryLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (r *otelRecorder) RecordColdWrite(ctx context.Context, category string, sizeBytes int64) {
	r.coldBytes.Add(ctx, sizeBytes, metric.WithAttributes(attribute.String("category", category)))
}

// Noop is a Recorder that does nothing.
type Noop struct{}

func (Noop) RecordEvent(context.Context, string)                       {}
func (Noop) RecordEviction(context.Context, string)                    {}
func (Noop) RecordBroadcastDrop(context.Context)                       {}
func (Noop) RecordMigration(context.Context, bool, int, time.Duration) {}
func (Noop) RecordQuery(context.Context, bool, int, time.Duration)     {}
func (Noop) RecordColdWrite(context.Context, string, int64)            {}
