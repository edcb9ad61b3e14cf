// Package query answers history queries across the hot store and the
// cold archive.
//
// The hot store is always read. The archive is read when the query starts
// further back than the hot horizon, or at or before the newest archived
// event of the requested categories; hot buckets are bounded by count, so
// minutes-old events may already be on disk. Both result sets are merged,
// deduplicated by event id, filtered, sorted and limited in memory.
// Data faults never reach the caller: an unreadable archive degrades the
// answer to what the hot store holds.
package query

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/xtxerr/homehistory/internal/history/aggregate"
	"github.com/xtxerr/homehistory/internal/history/buffer"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/metrics"
	"github.com/xtxerr/homehistory/internal/history/types"
	"github.com/xtxerr/homehistory/internal/logging"
)

// HotReader is the hot-store read surface.
type HotReader interface {
	Query(filter buffer.Filter, categories []types.CategoryKind) []types.HistoricalEvent
}

// ColdReader is the archive read surface. Category is the only predicate
// pushed down.
type ColdReader interface {
	QueryEvents(ctx context.Context, start, end time.Time, categories []types.CategoryKind, limit int) ([]types.HistoricalEvent, error)

	// NewestTimestamp returns the latest archived event timestamp for the
	// categories (all when none), zero when nothing is archived.
	NewestTimestamp(categories []types.CategoryKind) time.Time
}

// Result is the answer to one query.
type Result struct {
	Events []types.HistoricalEvent

	// TotalCount is the number of matches before the limit was applied.
	TotalCount int

	QueryTimeMs int64

	// FromHotStorage reports whether the cold archive was consulted.
	// The name is kept for compatibility with existing consumers.
	FromHotStorage bool
}

// Engine executes queries.
type Engine struct {
	hot     HotReader
	cold    ColdReader
	cfg     config.QueryConfig
	horizon time.Duration

	now      func() time.Time
	recorder metrics.Recorder
	logger   *slog.Logger

	// Statistics
	queries      atomic.Int64
	coldConsults atomic.Int64
	coldErrors   atomic.Int64
	aggregations atomic.Int64
	rowsReturned atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates an engine over the given stores. cold may be nil, in
// which case only the hot store is queried. horizon is how far back the
// hot store answers on its own.
func NewEngine(hot HotReader, cold ColdReader, cfg config.QueryConfig, horizon time.Duration, opts ...Option) *Engine {
	if cfg.DefaultSpan <= 0 {
		cfg.DefaultSpan = 30 * 24 * time.Hour
	}
	if horizon <= 0 {
		horizon = time.Hour
	}

	e := &Engine{
		hot:      hot,
		cold:     cold,
		cfg:      cfg,
		horizon:  horizon,
		now:      func() time.Time { return time.Now().UTC() },
		recorder: metrics.Noop{},
		logger:   logging.Component("query"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query returns an empty builder bound to this engine.
func (e *Engine) Query() Builder {
	return Builder{engine: e, order: Descending}
}

// Aggregate buckets one system metric over the default span.
func (e *Engine) Aggregate(ctx context.Context, metricName string, interval types.Interval) []types.AggregatePoint {
	return e.Query().Aggregate(ctx, metricName, interval)
}

// plan is a builder with its time range resolved against the clock.
type plan struct {
	start time.Time
	end   time.Time
	cold  bool
}

func (e *Engine) plan(b *Builder) plan {
	now := e.now()
	p := plan{start: b.start, end: b.end}
	if p.start.IsZero() {
		p.start = now.Add(-e.cfg.DefaultSpan)
	}
	if e.cold == nil {
		return p
	}
	if p.start.Before(now.Add(-e.horizon)) {
		p.cold = true
		return p
	}
	newest := e.cold.NewestTimestamp(b.categories)
	p.cold = !newest.IsZero() && !p.start.After(newest)
	return p
}

// collect returns every matching event, merged and deduplicated, unsorted.
func (e *Engine) collect(ctx context.Context, b *Builder, p plan) []types.HistoricalEvent {
	hotEvents := e.hot.Query(buffer.Filter{
		Since: p.start,
		Until: p.end,
		Match: b.matches,
	}, b.categories)

	if !p.cold {
		return hotEvents
	}

	e.coldConsults.Add(1)
	coldEvents, err := e.cold.QueryEvents(ctx, p.start, p.end, b.categories, 0)
	if err != nil {
		e.coldErrors.Add(1)
		logging.WithContext(ctx).With("component", "query").Warn("archive query failed, answering from memory",
			"start", p.start,
			"end", p.end,
			"error", err)
		return hotEvents
	}

	// An event caught mid-migration exists in both tiers.
	seen := make(map[string]struct{}, len(hotEvents)+len(coldEvents))
	merged := make([]types.HistoricalEvent, 0, len(hotEvents)+len(coldEvents))
	for _, ev := range hotEvents {
		seen[ev.ID] = struct{}{}
		merged = append(merged, ev)
	}
	for i := range coldEvents {
		ev := &coldEvents[i]
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		if !inRange(ev.Timestamp, p.start, p.end) || !b.matches(ev) {
			continue
		}
		seen[ev.ID] = struct{}{}
		merged = append(merged, *ev)
	}
	return merged
}

func (e *Engine) execute(ctx context.Context, b Builder) Result {
	start := time.Now()
	p := e.plan(&b)

	events := e.collect(ctx, &b, p)
	sortEvents(events, b.order)

	total := len(events)
	limit := b.limit
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	took := time.Since(start)
	e.queries.Add(1)
	e.rowsReturned.Add(int64(len(events)))
	e.recorder.RecordQuery(ctx, p.cold, len(events), took)

	e.logger.Debug("query executed",
		"start", p.start,
		"cold", p.cold,
		"matched", total,
		"returned", len(events),
		"took", took)

	return Result{
		Events:         events,
		TotalCount:     total,
		QueryTimeMs:    took.Milliseconds(),
		FromHotStorage: p.cold,
	}
}

func (e *Engine) aggregate(ctx context.Context, b Builder, metricName string, interval types.Interval) []types.AggregatePoint {
	b.categories = []types.CategoryKind{types.CategorySystemMetric}
	b.entities = []string{metricName}

	p := e.plan(&b)
	events := e.collect(ctx, &b, p)

	series := aggregate.NewSeries(interval, aggregate.Options{
		Percentiles: e.cfg.Percentile.Enabled,
		Accuracy:    e.cfg.Percentile.Accuracy,
	})
	for i := range events {
		m, ok := events[i].Category.(types.MetricData)
		if !ok || m.MetricName != metricName {
			continue
		}
		series.Add(events[i].Timestamp, m.Value)
	}

	e.aggregations.Add(1)
	return series.Points()
}

// sortEvents orders by timestamp, then id so equal timestamps are stable
// across runs.
func sortEvents(events []types.HistoricalEvent, order Order) {
	sort.Slice(events, func(i, j int) bool {
		a, b := &events[i], &events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if order == Ascending {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.Timestamp.After(b.Timestamp)
		}
		if order == Ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}

// Stats holds engine statistics.
type Stats struct {
	Queries           int64
	ColdConsultations int64
	ColdErrors        int64
	Aggregations      int64
	RowsReturned      int64
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		Queries:           e.queries.Load(),
		ColdConsultations: e.coldConsults.Load(),
		ColdErrors:        e.coldErrors.Load(),
		Aggregations:      e.aggregations.Load(),
		RowsReturned:      e.rowsReturned.Load(),
	}
}
