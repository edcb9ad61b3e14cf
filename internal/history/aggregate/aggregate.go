// Package aggregate computes streaming statistics over time buckets.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/homehistory/internal/history/types"
)

// DefaultAccuracy is the DDSketch relative accuracy (1% error).
const DefaultAccuracy = 0.01

// Options configures percentile tracking.
type Options struct {
	Percentiles bool
	Accuracy    float64
}

// Bucket maintains running statistics for a single time bucket.
// It is not safe for concurrent use.
type Bucket struct {
	start time.Time

	count int64
	sum   float64
	min   float64
	max   float64

	// nil if percentiles are disabled
	sketch *ddsketch.DDSketch
}

// NewBucket creates an empty bucket starting at start.
func NewBucket(start time.Time, opts Options) *Bucket {
	b := &Bucket{
		start: start,
		min:   math.MaxFloat64,
		max:   -math.MaxFloat64,
	}

	if opts.Percentiles {
		accuracy := opts.Accuracy
		if accuracy <= 0 || accuracy >= 1 {
			accuracy = DefaultAccuracy
		}
		if sketch, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
			b.sketch = sketch
		}
	}
	return b
}

// Add adds a value to the bucket.
func (b *Bucket) Add(value float64) {
	if math.IsNaN(value) {
		return
	}

	b.count++
	b.sum += value
	if value < b.min {
		b.min = value
	}
	if value > b.max {
		b.max = value
	}

	if b.sketch != nil {
		// DDSketch rejects values it cannot map; the summary stats still count them.
		_ = b.sketch.Add(value)
	}
}

// Merge combines another bucket into this one.
func (b *Bucket) Merge(other *Bucket) {
	if other == nil || other.count == 0 {
		return
	}

	b.count += other.count
	b.sum += other.sum
	if other.min < b.min {
		b.min = other.min
	}
	if other.max > b.max {
		b.max = other.max
	}
	if b.sketch != nil && other.sketch != nil {
		_ = b.sketch.MergeWith(other.sketch)
	}
}

// Count returns the number of values added.
func (b *Bucket) Count() int64 {
	return b.count
}

// Point returns the bucket statistics.
func (b *Bucket) Point() types.AggregatePoint {
	p := types.AggregatePoint{
		Timestamp: b.start,
		Count:     b.count,
		Sum:       b.sum,
	}
	if b.count == 0 {
		return p
	}

	p.Avg = b.sum / float64(b.count)
	p.Min = b.min
	p.Max = b.max

	if b.sketch != nil && !b.sketch.IsEmpty() {
		p50, _ := b.sketch.GetValueAtQuantile(0.50)
		p95, _ := b.sketch.GetValueAtQuantile(0.95)
		p99, _ := b.sketch.GetValueAtQuantile(0.99)
		p.SetPercentiles(p50, p95, p99)
	}
	return p
}

// Series groups values into buckets of a fixed interval.
type Series struct {
	interval types.Interval
	opts     Options
	buckets  map[time.Time]*Bucket
}

// NewSeries creates an empty series.
func NewSeries(interval types.Interval, opts Options) *Series {
	return &Series{
		interval: interval,
		opts:     opts,
		buckets:  make(map[time.Time]*Bucket),
	}
}

// Add adds a value observed at ts to its bucket.
func (s *Series) Add(ts time.Time, value float64) {
	start := s.interval.Truncate(ts)
	b, ok := s.buckets[start]
	if !ok {
		b = NewBucket(start, s.opts)
		s.buckets[start] = b
	}
	b.Add(value)
}

// Len returns the number of non-empty buckets.
func (s *Series) Len() int {
	return len(s.buckets)
}

// Points returns one point per bucket, sorted by bucket start ascending.
func (s *Series) Points() []types.AggregatePoint {
	points := make([]types.AggregatePoint, 0, len(s.buckets))
	for _, b := range s.buckets {
		points = append(points, b.Point())
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}
