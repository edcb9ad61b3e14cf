package types

import "time"

// AggregatePoint holds statistics for one aggregation bucket.
type AggregatePoint struct {
	// Timestamp is the bucket start (UTC).
	Timestamp time.Time

	Count int64
	Min   float64
	Max   float64
	Avg   float64
	Sum   float64

	// Percentiles (nil unless percentile tracking is enabled)
	P50 *float64
	P95 *float64
	P99 *float64
}

// IsEmpty returns true if no samples were aggregated.
func (p *AggregatePoint) IsEmpty() bool {
	return p.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (p *AggregatePoint) HasPercentiles() bool {
	return p.P50 != nil
}

// SetPercentiles sets all percentile values.
func (p *AggregatePoint) SetPercentiles(p50, p95, p99 float64) {
	p.P50 = &p50
	p.P95 = &p95
	p.P99 = &p99
}
