package query

import (
	"context"
	"slices"
	"time"

	"github.com/xtxerr/homehistory/internal/history/types"
)

// Order is the result sort order.
type Order int

const (
	// Descending returns newest events first.
	Descending Order = iota
	// Ascending returns oldest events first.
	Ascending
)

// String returns the order name.
func (o Order) String() string {
	if o == Ascending {
		return "asc"
	}
	return "desc"
}

// Builder accumulates filters for one query. It is a value: every setter
// returns a modified copy and never touches the receiver, so builders can
// be shared and branched freely.
//
//	res := engine.Query().
//	    Since(time.Now().Add(-24 * time.Hour)).
//	    Categories(types.CategoryDeviceState).
//	    Rooms("kitchen").
//	    Limit(50).
//	    Execute(ctx)
type Builder struct {
	engine *Engine

	start time.Time
	end   time.Time

	categories []types.CategoryKind
	sources    []types.SourceKind
	entities   []string
	rooms      []string
	metadata   []string

	limit int
	order Order
}

// Since sets the inclusive start time.
func (b Builder) Since(t time.Time) Builder {
	b.start = t.UTC()
	return b
}

// Until sets the inclusive end time.
func (b Builder) Until(t time.Time) Builder {
	b.end = t.UTC()
	return b
}

// Between sets both ends of the time range.
func (b Builder) Between(start, end time.Time) Builder {
	return b.Since(start).Until(end)
}

// Categories restricts results to any of the given kinds.
func (b Builder) Categories(kinds ...types.CategoryKind) Builder {
	b.categories = append(slices.Clone(b.categories), kinds...)
	return b
}

// Sources restricts results to events from any of the given source kinds.
func (b Builder) Sources(kinds ...types.SourceKind) Builder {
	b.sources = append(slices.Clone(b.sources), kinds...)
	return b
}

// Entities restricts results to events about any of the given entities
// (device, sensor, metric name, actor).
func (b Builder) Entities(ids ...string) Builder {
	b.entities = append(slices.Clone(b.entities), ids...)
	return b
}

// Rooms restricts results to events located in any of the given rooms.
func (b Builder) Rooms(rooms ...string) Builder {
	b.rooms = append(slices.Clone(b.rooms), rooms...)
	return b
}

// RequireMetadata keeps only events carrying every given metadata key.
func (b Builder) RequireMetadata(keys ...string) Builder {
	b.metadata = append(slices.Clone(b.metadata), keys...)
	return b
}

// noLimit disables both the builder limit and the engine default.
const noLimit = -1

// Limit caps the number of returned events. Zero falls back to the
// engine's default limit.
func (b Builder) Limit(n int) Builder {
	if n < 0 {
		n = 0
	}
	b.limit = n
	return b
}

// Unlimited returns every match, ignoring the engine's default limit.
func (b Builder) Unlimited() Builder {
	b.limit = noLimit
	return b
}

// Order sets the sort order.
func (b Builder) Order(o Order) Builder {
	b.order = o
	return b
}

// Execute runs the query.
func (b Builder) Execute(ctx context.Context) Result {
	return b.engine.execute(ctx, b)
}

// Aggregate buckets the samples of one system metric inside the builder's
// time range. Category, entity and limit settings are replaced.
func (b Builder) Aggregate(ctx context.Context, metricName string, interval types.Interval) []types.AggregatePoint {
	return b.engine.aggregate(ctx, b, metricName, interval)
}

// matches applies every in-memory predicate except the time range.
func (b *Builder) matches(ev *types.HistoricalEvent) bool {
	if len(b.categories) > 0 && !slices.Contains(b.categories, ev.Kind()) {
		return false
	}
	if len(b.sources) > 0 && !slices.Contains(b.sources, ev.Source.Kind) {
		return false
	}
	if len(b.entities) > 0 && !slices.Contains(b.entities, ev.EntityID()) {
		return false
	}
	if len(b.rooms) > 0 {
		room := ev.Room()
		if room == "" || !slices.Contains(b.rooms, room) {
			return false
		}
	}
	for _, key := range b.metadata {
		if !ev.HasMetadata(key) {
			return false
		}
	}
	return true
}

// inRange reports whether ts falls inside [start, end]. A zero end is open.
func inRange(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}
