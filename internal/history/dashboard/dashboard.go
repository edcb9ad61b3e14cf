// Package dashboard builds summarized views of the history log. Every view
// is computed through the query API only.
package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/xtxerr/homehistory/internal/history/aggregate"
	"github.com/xtxerr/homehistory/internal/history/query"
	"github.com/xtxerr/homehistory/internal/history/types"
)

// recentFailures caps AuditSummary.RecentFailures.
const recentFailures = 10

// Querier hands out query builders.
type Querier interface {
	Query() query.Builder
}

// Dashboard computes views over a Querier.
type Dashboard struct {
	q Querier
}

// New creates a dashboard.
func New(q Querier) *Dashboard {
	return &Dashboard{q: q}
}

// DeviceActivity summarizes the state changes of one device.
type DeviceActivity struct {
	DeviceID   string
	Changes    int
	LastChange time.Time
	LastValue  string
	ByValue    map[string]int
	Events     []types.HistoricalEvent // newest first
}

// DeviceActivity returns the state changes of deviceID since the given time.
func (d *Dashboard) DeviceActivity(ctx context.Context, deviceID string, since time.Time) DeviceActivity {
	res := d.q.Query().
		Since(since).
		Categories(types.CategoryDeviceState).
		Entities(deviceID).
		Unlimited().
		Execute(ctx)

	act := DeviceActivity{
		DeviceID: deviceID,
		Changes:  res.TotalCount,
		ByValue:  make(map[string]int),
		Events:   res.Events,
	}
	for i, ev := range res.Events {
		change, ok := ev.Category.(types.DeviceStateChange)
		if !ok {
			continue
		}
		if i == 0 {
			act.LastChange = ev.Timestamp
			act.LastValue = change.NewValue
		}
		act.ByValue[change.NewValue]++
	}
	return act
}

// SensorTrend is a bucketed series of one sensor's readings.
type SensorTrend struct {
	SensorID string
	Unit     string
	Points   []types.AggregatePoint
	Latest   *float64
}

// SensorTrend buckets the readings of sensorID since the given time.
func (d *Dashboard) SensorTrend(ctx context.Context, sensorID string, interval types.Interval, since time.Time) SensorTrend {
	res := d.q.Query().
		Since(since).
		Categories(types.CategorySensorReading).
		Entities(sensorID).
		Order(query.Ascending).
		Unlimited().
		Execute(ctx)

	trend := SensorTrend{SensorID: sensorID}
	series := aggregate.NewSeries(interval, aggregate.Options{})
	for _, ev := range res.Events {
		reading, ok := ev.Category.(types.SensorData)
		if !ok {
			continue
		}
		series.Add(ev.Timestamp, reading.Value)
		trend.Unit = reading.Unit
		v := reading.Value
		trend.Latest = &v
	}
	trend.Points = series.Points()
	return trend
}

// HealthTimeline buckets one system metric over the default query span.
func (d *Dashboard) HealthTimeline(ctx context.Context, metric string, interval types.Interval) []types.AggregatePoint {
	return d.q.Query().Aggregate(ctx, metric, interval)
}

// ActorCount is the number of audited actions of one actor.
type ActorCount struct {
	Actor string
	Count int
}

// AuditSummary counts audited actions.
type AuditSummary struct {
	Total          int
	ByResult       map[types.AuditResult]int
	ByActor        map[string]int
	TopActors      []ActorCount // most active first
	RecentFailures []types.HistoricalEvent
}

// AuditSummary counts audit events since the given time by result and
// actor.
func (d *Dashboard) AuditSummary(ctx context.Context, since time.Time) AuditSummary {
	res := d.q.Query().
		Since(since).
		Categories(types.CategoryAuditEvent).
		Unlimited().
		Execute(ctx)

	sum := AuditSummary{
		Total:    res.TotalCount,
		ByResult: make(map[types.AuditResult]int),
		ByActor:  make(map[string]int),
	}
	for _, ev := range res.Events {
		audit, ok := ev.Category.(types.AuditData)
		if !ok {
			continue
		}
		sum.ByResult[audit.Result]++
		sum.ByActor[audit.Actor]++
		if audit.Result == types.AuditFailure && len(sum.RecentFailures) < recentFailures {
			sum.RecentFailures = append(sum.RecentFailures, ev)
		}
	}

	for actor, n := range sum.ByActor {
		sum.TopActors = append(sum.TopActors, ActorCount{Actor: actor, Count: n})
	}
	sort.Slice(sum.TopActors, func(i, j int) bool {
		if sum.TopActors[i].Count != sum.TopActors[j].Count {
			return sum.TopActors[i].Count > sum.TopActors[j].Count
		}
		return sum.TopActors[i].Actor < sum.TopActors[j].Actor
	})
	return sum
}
